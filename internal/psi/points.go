package psi

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ParsePoints reads unsigned integers separated by commas, whitespace or
// newlines. Lines starting with '#' are ignored.
func ParsePoints(r io.Reader) ([]uint64, error) {
	var points []uint64
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.FieldsFunc(line, func(c rune) bool {
			return c == ',' || c == ' ' || c == '\t'
		})
		for _, f := range fields {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid point %q: %w", lineNo, f, err)
			}
			points = append(points, v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read points: %w", err)
	}
	return points, nil
}

// LoadPoints reads a point file in the ParsePoints format.
func LoadPoints(filePath string) ([]uint64, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open points file: %w", err)
	}
	defer file.Close()
	return ParsePoints(file)
}
