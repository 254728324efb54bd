// Package parted reads and edits partition tables of image files through
// the machine readable output of parted (`parted -ms ... unit B`).
package parted

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/macvmio/imgprep/pkg/shell"
)

const freeType = "free"

// Partition is one row of a parted report. Offsets are inclusive byte
// positions within the disk image.
type Partition struct {
	Number     int
	Start      int64
	End        int64
	Size       int64
	Filesystem string
	Name       string
	Flags      string
}

// IsFree reports whether the row describes unallocated space.
func (p Partition) IsFree() bool {
	return p.Filesystem == freeType
}

func (p Partition) IsExt() bool {
	switch p.Filesystem {
	case "ext2", "ext3", "ext4":
		return true
	}
	return false
}

func (p Partition) IsFAT() bool {
	return strings.HasPrefix(p.Filesystem, "fat")
}

func (p Partition) String() string {
	return fmt.Sprintf("#%d %s [%d-%d] %dB", p.Number, p.Filesystem, p.Start, p.End, p.Size)
}

// Table is a parsed report. Rows keeps the order parted printed them in,
// including free-space rows when the report was asked for them.
type Table struct {
	Path              string
	Size              int64
	Transport         string
	LogicalSectorSize int
	PhysSectorSize    int
	Label             string
	Rows              []Partition
}

// Partitions returns the allocated rows.
func (t *Table) Partitions() []Partition {
	res := make([]Partition, 0, len(t.Rows))
	for _, r := range t.Rows {
		if !r.IsFree() {
			res = append(res, r)
		}
	}
	return res
}

// Logical reports whether p is a logical partition inside an msdos extended
// partition. Those are numbered from 5.
func (t *Table) Logical(p Partition) bool {
	return t.Label == "msdos" && p.Number > 4
}

// Root returns the last allocated partition, where Raspberry Pi style
// images keep their root filesystem.
func (t *Table) Root() (Partition, error) {
	parts := t.Partitions()
	if len(parts) == 0 {
		return Partition{}, fmt.Errorf("no partitions found in '%v'", t.Path)
	}
	return parts[len(parts)-1], nil
}

// Boot returns the first FAT partition, if any.
func (t *Table) Boot() (Partition, bool) {
	for _, p := range t.Partitions() {
		if p.IsFAT() {
			return p, true
		}
	}
	return Partition{}, false
}

// TrailingFree returns the last row when it is free space.
func (t *Table) TrailingFree() (Partition, bool) {
	if len(t.Rows) == 0 {
		return Partition{}, false
	}
	last := t.Rows[len(t.Rows)-1]
	return last, last.IsFree()
}

// Parse decodes `parted -ms <img> unit B print [free]` output.
func Parse(out string) (*Table, error) {
	var t *Table
	sc := bufio.NewScanner(strings.NewReader(out))
	lineNo := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lineNo++
		line = strings.TrimSuffix(line, ";")
		switch {
		case lineNo == 1:
			if line != "BYT" {
				return nil, fmt.Errorf("unexpected parted header %q, expected byte units", line)
			}
		case lineNo == 2:
			disk, err := parseDisk(line)
			if err != nil {
				return nil, err
			}
			t = disk
		default:
			p, err := parseRow(line)
			if err != nil {
				return nil, err
			}
			t.Rows = append(t.Rows, p)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("parted output has no disk line")
	}
	return t, nil
}

// parseDisk handles "path:size:transport:lss:pss:label:model:flags". The
// path itself may contain colons, so fields are taken from the right.
func parseDisk(line string) (*Table, error) {
	fields := strings.Split(line, ":")
	if len(fields) < 6 {
		return nil, fmt.Errorf("malformed parted disk line %q", line)
	}
	// older parted releases omit the trailing flags field
	n := len(fields)
	tail := 7
	if n < tail+1 {
		tail = n - 1
	}
	path := strings.Join(fields[:n-tail], ":")
	rest := fields[n-tail:]
	size, err := parseBytes(rest[0])
	if err != nil {
		return nil, fmt.Errorf("disk size: %w", err)
	}
	t := &Table{Path: path, Size: size, Transport: rest[1]}
	if t.LogicalSectorSize, err = strconv.Atoi(rest[2]); err != nil {
		return nil, fmt.Errorf("logical sector size: %w", err)
	}
	if t.PhysSectorSize, err = strconv.Atoi(rest[3]); err != nil {
		return nil, fmt.Errorf("physical sector size: %w", err)
	}
	t.Label = rest[4]
	return t, nil
}

// parseRow handles "number:start:end:size:fs:name:flags" and the short
// "number:start:end:size:free" form.
func parseRow(line string) (Partition, error) {
	fields := strings.Split(line, ":")
	if len(fields) < 5 {
		return Partition{}, fmt.Errorf("malformed parted row %q", line)
	}
	var (
		p   Partition
		err error
	)
	if p.Number, err = strconv.Atoi(fields[0]); err != nil {
		return Partition{}, fmt.Errorf("partition number in %q: %w", line, err)
	}
	if p.Start, err = parseBytes(fields[1]); err != nil {
		return Partition{}, fmt.Errorf("start in %q: %w", line, err)
	}
	if p.End, err = parseBytes(fields[2]); err != nil {
		return Partition{}, fmt.Errorf("end in %q: %w", line, err)
	}
	if p.Size, err = parseBytes(fields[3]); err != nil {
		return Partition{}, fmt.Errorf("size in %q: %w", line, err)
	}
	p.Filesystem = fields[4]
	if len(fields) > 5 {
		p.Name = fields[5]
	}
	if len(fields) > 6 {
		p.Flags = fields[6]
	}
	return p, nil
}

func parseBytes(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSuffix(s, "B"), 10, 64)
}

// Read runs parted against img and parses the allocated partitions.
func Read(ctx context.Context, r shell.Runner, img string) (*Table, error) {
	res, err := r.Run(ctx, "parted", "-ms", img, "unit", "B", "print")
	if err != nil {
		return nil, fmt.Errorf("unable to read partition table: %w", err)
	}
	return Parse(res.Stdout)
}

// ReadFree is Read with free-space rows included.
func ReadFree(ctx context.Context, r shell.Runner, img string) (*Table, error) {
	res, err := r.Run(ctx, "parted", "-ms", img, "unit", "B", "print", "free")
	if err != nil {
		return nil, fmt.Errorf("unable to read free space report: %w", err)
	}
	return Parse(res.Stdout)
}
