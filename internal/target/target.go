package target

import (
	"encoding/binary"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"unsafe"
)

// Description is the target the code generator emits for. It is derived
// once from the host process.
type Description struct {
	Arch         string
	OS           string
	Triple       string
	PtrSize      int // bytes
	PtrAlign     int // bytes
	LittleEndian bool
	PageSize     int
	// GlobalPrefix is prepended to every symbol name by the mangler.
	GlobalPrefix string
	DataLayout   string
}

// Detect derives the description of the running process. Hosts the
// generated code cannot run on are reported as errors.
func Detect() (Description, error) {
	ptrSize := int(unsafe.Sizeof(uintptr(0)))
	ptrAlign := int(unsafe.Alignof(uintptr(0)))
	little := isLittleEndian()
	if ptrSize != 8 {
		return Description{}, fmt.Errorf("target: unsupported pointer size %d on %s/%s", ptrSize, runtime.GOOS, runtime.GOARCH)
	}
	if !little {
		return Description{}, fmt.Errorf("target: big-endian host %s/%s is not supported", runtime.GOOS, runtime.GOARCH)
	}
	d := Description{
		Arch:         runtime.GOARCH,
		OS:           runtime.GOOS,
		Triple:       "nj64-" + runtime.GOARCH + "-" + runtime.GOOS,
		PtrSize:      ptrSize,
		PtrAlign:     ptrAlign,
		LittleEndian: little,
		PageSize:     os.Getpagesize(),
	}
	if runtime.GOOS == "darwin" || runtime.GOOS == "ios" {
		d.GlobalPrefix = "_"
	}
	d.DataLayout = d.formatDataLayout()
	return d, nil
}

func isLittleEndian() bool {
	return binary.NativeEndian.Uint16([]byte{1, 0}) == 1
}

func (d Description) formatDataLayout() string {
	endian := "E"
	if d.LittleEndian {
		endian = "e"
	}
	bits := strconv.Itoa(d.PtrSize * 8)
	abits := strconv.Itoa(d.PtrAlign * 8)
	return endian + "-p:" + bits + ":" + abits + "-i1:8-i8:8-i32:32-i64:64-f64:64"
}

func (d Description) String() string {
	return d.Triple
}

// CheckDataLayout reports the first component of layout that disagrees
// with the target. Components the string does not mention are taken from
// the target; an empty string matches.
func (d Description) CheckDataLayout(layout string) error {
	if layout == "" || layout == d.DataLayout {
		return nil
	}
	want := make(map[string]string, 8)
	for _, part := range strings.Split(d.DataLayout, "-") {
		k, v := splitComponent(part)
		want[k] = v
	}
	for _, part := range strings.Split(layout, "-") {
		if part == "" {
			continue
		}
		k, v := splitComponent(part)
		w, known := want[k]
		if !known {
			return fmt.Errorf("unknown data layout component %q", part)
		}
		if v != "" && v != w {
			return fmt.Errorf("data layout component %q, target has %q", part, joinComponent(k, w))
		}
	}
	return nil
}

// splitComponent splits "p:64:64" into ("p", "64:64") and "e" into ("endian", "e").
func splitComponent(part string) (string, string) {
	if part == "e" || part == "E" {
		return "endian", part
	}
	if i := strings.IndexByte(part, ':'); i >= 0 {
		return part[:i], part[i+1:]
	}
	return part, ""
}

func joinComponent(k, v string) string {
	if k == "endian" {
		return v
	}
	return k + ":" + v
}
