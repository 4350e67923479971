package storage

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/mikeyg42/posecapture/internal/frame"
)

const (
	sidecarIntrinsicsHeader = "intrinsics"
	sidecarExtrinsicsHeader = "extrinsics"
	intrinsicsUnavailable   = "Not Available"
)

// FormatSidecar renders the metadata text stored next to each image:
//
//	intrinsics
//	<intrinsics dump or "Not Available">
//	extrinsics
//	<4x4 camera-to-world transform, tab separated, 5 decimals>
func FormatSidecar(intr *frame.Intrinsics, pose frame.Pose) string {
	var b strings.Builder
	b.WriteString(sidecarIntrinsicsHeader)
	b.WriteByte('\n')
	if intr != nil {
		b.WriteString(intr.String())
	} else {
		b.WriteString(intrinsicsUnavailable)
	}
	b.WriteByte('\n')
	b.WriteString(sidecarExtrinsicsHeader)
	b.WriteByte('\n')
	b.WriteString(frame.FormatTransform(pose.Transform()))
	return b.String()
}

// ParseSidecarSections splits sidecar text back into its intrinsics and
// extrinsics dumps. A missing intrinsics block comes back as ok=false.
func ParseSidecarSections(s string) (intrinsics string, ok bool, extrinsics string, err error) {
	head := sidecarIntrinsicsHeader + "\n"
	if !strings.HasPrefix(s, head) {
		return "", false, "", fmt.Errorf("sidecar: missing %q header", sidecarIntrinsicsHeader)
	}
	rest := s[len(head):]

	sep := "\n" + sidecarExtrinsicsHeader + "\n"
	i := strings.Index(rest, sep)
	if i < 0 {
		return "", false, "", fmt.Errorf("sidecar: missing %q header", sidecarExtrinsicsHeader)
	}
	intrinsics = rest[:i]
	extrinsics = strings.TrimRight(rest[i+len(sep):], "\n")
	return intrinsics, intrinsics != intrinsicsUnavailable, extrinsics, nil
}

// ParseTransform reads the 4x4 extrinsics block back into a matrix.
func ParseTransform(s string) (*mat.Dense, error) {
	m := mat.NewDense(4, 4, nil)
	sc := bufio.NewScanner(strings.NewReader(s))
	row := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if row == 4 {
			return nil, fmt.Errorf("sidecar: extrinsics has more than 4 rows")
		}
		cols := strings.Split(line, "\t")
		if len(cols) != 4 {
			return nil, fmt.Errorf("sidecar: extrinsics row %d has %d columns", row, len(cols))
		}
		for c, v := range cols {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("sidecar: extrinsics row %d: %w", row, err)
			}
			m.Set(row, c, f)
		}
		row++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if row != 4 {
		return nil, fmt.Errorf("sidecar: extrinsics has %d rows, want 4", row)
	}
	return m, nil
}
