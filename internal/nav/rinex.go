package nav

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const (
	headerEnd   = "END OF HEADER"
	versionType = "RINEX VERSION / TYPE"

	fieldWidth   = 19
	epochWidth   = 22 // PRN + epoch on the first record line
	orbitIndent  = 3  // leading blanks on broadcast orbit lines
	orbitLines   = 7
	fieldsPerRec = 29
)

// ErrNotNavigation is returned when the header does not describe a GPS
// navigation file.
var ErrNotNavigation = errors.New("not a GPS navigation file")

// Parse decodes a RINEX 2.x GPS navigation file. Gzip-compressed input is
// detected from its magic bytes and decompressed on the fly.
func Parse(r io.Reader) (*File, error) {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		br = bufio.NewReader(zr)
	}

	sc := bufio.NewScanner(br)
	f := &File{}

	if err := parseHeader(sc, f); err != nil {
		return nil, err
	}

	line := 0
	for sc.Scan() {
		line++
		first := sc.Text()
		if strings.TrimSpace(first) == "" {
			continue
		}

		orbit := make([]string, 0, orbitLines)
		for len(orbit) < orbitLines && sc.Scan() {
			line++
			orbit = append(orbit, sc.Text())
		}
		if len(orbit) < orbitLines {
			return nil, fmt.Errorf("record at body line %d: truncated after %d orbit lines", line-len(orbit), len(orbit))
		}

		rec, err := parseRecord(first, orbit)
		if err != nil {
			return nil, fmt.Errorf("record at body line %d: %w", line-orbitLines, err)
		}
		f.Records = append(f.Records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	return f, nil
}

func parseHeader(sc *bufio.Scanner, f *File) error {
	sawVersion := false
	for sc.Scan() {
		l := sc.Text()
		label := ""
		if len(l) > 60 {
			label = strings.TrimSpace(l[60:])
		}
		switch label {
		case versionType:
			v, err := strconv.ParseFloat(strings.TrimSpace(field(l, 0, 9)), 64)
			if err != nil {
				return fmt.Errorf("header version: %w", err)
			}
			if t := strings.TrimSpace(field(l, 20, 1)); t != "N" {
				return fmt.Errorf("%w: file type %q", ErrNotNavigation, t)
			}
			f.Version = v
			sawVersion = true
		case headerEnd:
			if !sawVersion {
				return fmt.Errorf("%w: missing %s", ErrNotNavigation, versionType)
			}
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: no %s", ErrNotNavigation, headerEnd)
}

func parseRecord(first string, orbit []string) (Record, error) {
	var rec Record

	prn, err := strconv.Atoi(strings.TrimSpace(field(first, 0, 2)))
	if err != nil {
		return rec, fmt.Errorf("prn: %w", err)
	}
	if prn < 1 || prn > MaxPRN {
		return rec, fmt.Errorf("prn %d out of range", prn)
	}
	rec.PRN = prn

	toc, err := parseEpoch(field(first, 2, epochWidth-2))
	if err != nil {
		return rec, fmt.Errorf("epoch: %w", err)
	}
	rec.Toc = toc

	values := make([]float64, 0, fieldsPerRec)
	for i := 0; i < 3; i++ {
		v, err := parseFloat(field(first, epochWidth+i*fieldWidth, fieldWidth))
		if err != nil {
			return rec, err
		}
		values = append(values, v)
	}
	for _, l := range orbit {
		for i := 0; i < 4 && len(values) < fieldsPerRec; i++ {
			v, err := parseFloat(field(l, orbitIndent+i*fieldWidth, fieldWidth))
			if err != nil {
				return rec, err
			}
			values = append(values, v)
		}
	}

	for i, p := range rec.fields() {
		*p = values[i]
	}
	return rec, nil
}

// parseEpoch reads " yy mm dd hh mm ss.s" with a two-digit year.
func parseEpoch(s string) (time.Time, error) {
	parts := strings.Fields(s)
	if len(parts) != 6 {
		return time.Time{}, fmt.Errorf("want 6 epoch fields, got %d", len(parts))
	}
	var n [5]int
	for i := 0; i < 5; i++ {
		v, err := strconv.Atoi(parts[i])
		if err != nil {
			return time.Time{}, err
		}
		n[i] = v
	}
	sec, err := strconv.ParseFloat(parts[5], 64)
	if err != nil {
		return time.Time{}, err
	}

	year := n[0] + 2000
	if n[0] >= 80 {
		year = n[0] + 1900
	}
	whole := int(sec)
	nanos := int((sec - float64(whole)) * 1e9)
	return time.Date(year, time.Month(n[1]), n[2], n[3], n[4], whole, nanos, time.UTC), nil
}

// parseFloat accepts Fortran D exponents. Blank fields read as zero.
func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	s = strings.NewReplacer("D", "E", "d", "e").Replace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", s, err)
	}
	return v, nil
}

// field returns s[start:start+width], clipped to the line length.
func field(s string, start, width int) string {
	if start >= len(s) {
		return ""
	}
	end := start + width
	if end > len(s) {
		end = len(s)
	}
	return s[start:end]
}

// Write encodes f as a RINEX 2 GPS navigation file.
func Write(w io.Writer, f *File) error {
	bw := bufio.NewWriter(w)

	version := f.Version
	if version == 0 {
		version = 2.10
	}
	fmt.Fprintf(bw, "%9.2f%11s%-20s%-20s%-20s\n", version, "", "N: GPS NAV DATA", "", versionType)
	fmt.Fprintf(bw, "%60s%-20s\n", "", headerEnd)

	for i := range f.Records {
		rec := f.Records[i]
		vals := rec.fields()
		t := rec.Toc
		sec := float64(t.Second()) + float64(t.Nanosecond())/1e9

		fmt.Fprintf(bw, "%2d %02d %2d %2d %2d %2d%5.1f", rec.PRN, t.Year()%100, int(t.Month()), t.Day(), t.Hour(), t.Minute(), sec)
		for _, p := range vals[:3] {
			bw.WriteString(formatD(*p))
		}
		bw.WriteByte('\n')

		rest := vals[3:]
		for len(rest) > 0 {
			n := 4
			if len(rest) < n {
				n = len(rest)
			}
			bw.WriteString(strings.Repeat(" ", orbitIndent))
			for _, p := range rest[:n] {
				bw.WriteString(formatD(*p))
			}
			bw.WriteByte('\n')
			rest = rest[n:]
		}
	}

	return bw.Flush()
}

func formatD(v float64) string {
	return strings.Replace(fmt.Sprintf("%19.12E", v), "E", "D", 1)
}
