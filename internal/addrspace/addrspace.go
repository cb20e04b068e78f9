// Package addrspace implements the per-process/per-kernel address space of
// spec.md §4.2, adapted from the teacher's vm package (biscuit/src/vm/as.go).
// The teacher builds a real x86_64 page table and walks it with unsafe
// pointer arithmetic over a direct-mapped view of physical memory
// (mem/dmap.go); none of that is portable to hosted Go, so this version
// keeps the teacher's *shape* — a Vm_t-style mutex-guarded space holding a
// region list plus a page-table map, with Lookup/translate/page-insert
// operations — but represents the page table as an ordinary Go map keyed by
// virtual page number instead of walking machine page-table levels.
package addrspace

import (
	"debug/elf"
	"fmt"
	"sort"
	"sync"

	"github.com/teaching-os/rvkernel/internal/frame"
)

// VPN is a virtual page number.
type VPN uint64

// Perm is a bitmask of page permissions, matching spec.md §3's
// {R, W, X, U} on a MapArea.
type Perm uint8

const (
	PermR Perm = 1 << iota
	PermW
	PermX
	PermU
)

// Kind distinguishes how a MapArea's pages are backed.
type Kind int

const (
	// KindIdentity maps virtual page N to physical page N; used for
	// kernel text/rodata/data/bss and MMIO ranges (spec.md §3).
	KindIdentity Kind = iota
	// KindFramed maps each virtual page to an independently owned Frame.
	KindFramed
)

// MapArea is a contiguous half-open virtual range [StartVPN, EndVPN) with a
// uniform mapping kind and permission set, per spec.md §3.
type MapArea struct {
	StartVPN VPN
	EndVPN   VPN
	Kind     Kind
	Perm     Perm
	// frames backs KindFramed areas: one owned Frame per mapped page.
	frames map[VPN]*frame.Frame
}

func (m *MapArea) contains(vpn VPN) bool {
	return vpn >= m.StartVPN && vpn < m.EndVPN
}

// pte is the simulated page-table-entry: a physical page number plus
// permission bits, the minimum spec.md §3 requires translate() to report.
type pte struct {
	ppn  frame.PPN
	perm Perm
}

// AddressSpace is a per-process (or the global kernel) address space. The
// mutex guards areas and the simulated page table exactly as Vm_t's mutex
// guards Vmregion/Pmap in the teacher (vm/as.go).
type AddressSpace struct {
	mu       sync.Mutex
	alloc    *frame.Allocator
	areas    []*MapArea
	table    map[VPN]pte
	frames   map[VPN]*frame.Frame
	token    uint64
	isKernel bool
}

var nextToken uint64 = 1

func newSpace(alloc *frame.Allocator, isKernel bool) *AddressSpace {
	t := nextToken
	nextToken++
	return &AddressSpace{
		alloc:    alloc,
		table:    make(map[VPN]pte),
		frames:   make(map[VPN]*frame.Frame),
		token:    t,
		isKernel: isKernel,
	}
}

// Token returns the value that would be installed in satp to activate this
// space (spec.md §3 "address-space token"); here it is simply an opaque,
// process-unique identifier.
func (as *AddressSpace) Token() uint64 { return as.token }

// Translate resolves vpn to its backing physical page and permissions, per
// spec.md §4.2.
func (as *AddressSpace) Translate(vpn VPN) (frame.PPN, Perm, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.translateLocked(vpn)
}

func (as *AddressSpace) translateLocked(vpn VPN) (frame.PPN, Perm, bool) {
	e, ok := as.table[vpn]
	if !ok {
		return 0, 0, false
	}
	return e.ppn, e.perm, true
}

// areaOverlaps reports whether [start,end) overlaps any existing area;
// spec.md §4.2 requires identity areas not overlap framed areas (and areas
// not overlap each other in general).
func (as *AddressSpace) areaOverlaps(start, end VPN) bool {
	for _, a := range as.areas {
		if start < a.EndVPN && a.StartVPN < end {
			return true
		}
	}
	return false
}

// PushArea installs area into the address space, allocating and mapping
// fresh frames for a KindFramed area (optionally seeded with init bytes,
// truncated/zero-padded to the area's size) or recording an identity mapping
// for a KindIdentity area. It mirrors the teacher's push_area-style thread
// user-resource setup (vm/as.go Vmadd_anon/Vmadd_file, generalized).
func (as *AddressSpace) PushArea(area *MapArea, init []byte) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	if area.EndVPN <= area.StartVPN {
		panic("addrspace: empty area")
	}
	if as.areaOverlaps(area.StartVPN, area.EndVPN) {
		panic("addrspace: overlapping area")
	}

	switch area.Kind {
	case KindIdentity:
		for vpn := area.StartVPN; vpn < area.EndVPN; vpn++ {
			as.table[vpn] = pte{ppn: frame.PPN(vpn), perm: area.Perm}
		}
	case KindFramed:
		area.frames = make(map[VPN]*frame.Frame)
		off := 0
		for vpn := area.StartVPN; vpn < area.EndVPN; vpn++ {
			f, err := as.alloc.Alloc()
			if err != nil {
				as.unmapFramedLocked(area)
				return fmt.Errorf("addrspace: push area: %w", err)
			}
			if init != nil && off < len(init) {
				n := copy(f.Bytes(), init[off:])
				_ = n
			}
			off += frame.PageSize
			area.frames[vpn] = f
			as.table[vpn] = pte{ppn: f.PPN(), perm: area.Perm}
			as.frames[vpn] = f
		}
	default:
		panic("addrspace: bad kind")
	}
	as.areas = append(as.areas, area)
	return nil
}

func (as *AddressSpace) unmapFramedLocked(area *MapArea) {
	for vpn, f := range area.frames {
		f.Release()
		delete(as.table, vpn)
		delete(as.frames, vpn)
	}
}

// RemoveAreaCovering unmaps and releases the area containing vpn, per
// spec.md §4.2's thread user-resource teardown. It returns false if no area
// covers vpn.
func (as *AddressSpace) RemoveAreaCovering(vpn VPN) bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	for i, a := range as.areas {
		if a.contains(vpn) {
			if a.Kind == KindFramed {
				as.unmapFramedLocked(a)
			} else {
				for v := a.StartVPN; v < a.EndVPN; v++ {
					delete(as.table, v)
				}
			}
			as.areas = append(as.areas[:i], as.areas[i+1:]...)
			return true
		}
	}
	return false
}

// Areas returns a read-only snapshot of the area list, sorted by start VPN,
// used by fork's deep-copy and by tests asserting layout invariants.
func (as *AddressSpace) Areas() []*MapArea {
	as.mu.Lock()
	defer as.mu.Unlock()
	cp := make([]*MapArea, len(as.areas))
	copy(cp, as.areas)
	sort.Slice(cp, func(i, j int) bool { return cp[i].StartVPN < cp[j].StartVPN })
	return cp
}

// Destroy releases every framed page owned by this address space, per
// spec.md §4.2's drop invariant ("drop of an AddressSpace releases every
// framed page").
func (as *AddressSpace) Destroy() {
	as.mu.Lock()
	defer as.mu.Unlock()
	for _, a := range as.areas {
		if a.Kind == KindFramed {
			as.unmapFramedLocked(a)
		}
	}
	as.areas = nil
	as.table = make(map[VPN]pte)
	as.frames = make(map[VPN]*frame.Frame)
}

// NewKernel builds the global kernel address space: identity maps over the
// supplied sections and MMIO ranges, per spec.md §4.2 new_kernel(). Each
// entry is [startVPN, endVPN) with its permission bits; the kernel image
// itself is treated as an external input (platform bring-up is out of
// scope per spec.md §1), so the caller supplies the ranges rather than this
// package parsing a linker script.
func NewKernel(alloc *frame.Allocator, sections []MapArea) (*AddressSpace, error) {
	as := newSpace(alloc, true)
	for i := range sections {
		s := sections[i]
		if err := as.PushArea(&MapArea{StartVPN: s.StartVPN, EndVPN: s.EndVPN, Kind: KindIdentity, Perm: s.Perm}, nil); err != nil {
			return nil, err
		}
	}
	return as, nil
}

// Segment describes one loadable region carved out of a program image,
// returned by FromProgramImage for the caller (internal/proc) to seed the
// thread's initial mappings around.
type Segment struct {
	StartVPN VPN
	EndVPN   VPN
	Perm     Perm
	Data     []byte
}

// LoadedImage is the result of parsing a program image: its segments and
// entry point, independent of stack/trap-context placement (those are
// per-thread and handled by internal/proc/internal/task).
type LoadedImage struct {
	Segments []Segment
	Entry    uint64
}

// ParseProgramImage parses an ELF64 executable image, per spec.md §4.2
// from_program_image(). It uses the standard library's debug/elf, the same
// package the teacher's own build tooling (kernel/chentry.go) uses to
// manipulate ELF headers — there is no third-party ELF parser anywhere in
// the example pack.
func ParseProgramImage(image []byte) (*LoadedImage, error) {
	f, err := elf.NewFile(byteReaderAt(image))
	if err != nil {
		return nil, fmt.Errorf("addrspace: parse elf: %w", err)
	}
	li := &LoadedImage{Entry: f.Entry}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		perm := Perm(PermU)
		if prog.Flags&elf.PF_R != 0 {
			perm |= PermR
		}
		if prog.Flags&elf.PF_W != 0 {
			perm |= PermW
		}
		if prog.Flags&elf.PF_X != 0 {
			perm |= PermX
		}
		data := make([]byte, prog.Memsz)
		fileBytes := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(fileBytes, 0); err != nil {
			return nil, fmt.Errorf("addrspace: read segment: %w", err)
		}
		copy(data, fileBytes)

		startVPN := VPN(prog.Vaddr / frame.PageSize)
		endVPN := VPN(util_roundupPages(prog.Vaddr, uint64(prog.Memsz)))
		li.Segments = append(li.Segments, Segment{
			StartVPN: startVPN,
			EndVPN:   endVPN,
			Perm:     perm,
			Data:     data,
		})
	}
	return li, nil
}

func util_roundupPages(vaddr, memsz uint64) uint64 {
	end := vaddr + memsz
	return (end + frame.PageSize - 1) / frame.PageSize
}

// byteReaderAt adapts a []byte to io.ReaderAt for debug/elf.NewFile.
type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b)) {
		return 0, fmt.Errorf("addrspace: out of range read at %d", off)
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, fmt.Errorf("addrspace: short read")
	}
	return n, nil
}

// CloneForFork deep-copies every framed area of parent into a fresh address
// space — allocating new frames and copying their contents — and re-adds
// identity areas by value, per spec.md §4.2 clone_for_fork(). The result is
// independent of parent: subsequent writes to either space's framed pages
// are not observable in the other (spec.md §8 fork invariant).
func CloneForFork(alloc *frame.Allocator, parent *AddressSpace) (*AddressSpace, error) {
	child := newSpace(alloc, false)
	for _, a := range parent.Areas() {
		na := &MapArea{StartVPN: a.StartVPN, EndVPN: a.EndVPN, Kind: a.Kind, Perm: a.Perm}
		if a.Kind == KindIdentity {
			if err := child.PushArea(na, nil); err != nil {
				return nil, err
			}
			continue
		}
		// Framed: gather parent's bytes in VPN order and let PushArea
		// allocate fresh frames and copy them in.
		buf := make([]byte, 0, int(a.EndVPN-a.StartVPN)*frame.PageSize)
		for vpn := a.StartVPN; vpn < a.EndVPN; vpn++ {
			f := a.frames[vpn]
			buf = append(buf, f.Bytes()...)
		}
		if err := child.PushArea(na, buf); err != nil {
			return nil, err
		}
	}
	return child, nil
}

// NewUserSpace creates an empty address space ready for PushArea calls, used
// when building a fresh process or re-building one for exec().
func NewUserSpace(alloc *frame.Allocator) *AddressSpace {
	return newSpace(alloc, false)
}

// PageOffset splits a virtual byte address into its VPN and in-page offset,
// using this package's fixed frame.PageSize.
func PageOffset(addr uint64) (VPN, int) {
	return VPN(addr / frame.PageSize), int(addr % frame.PageSize)
}

// CopyOut copies data into this address space starting at virtual byte
// address addr, crossing page boundaries as needed, per spec.md §4.10
// "System-call surface ... copies data across address spaces". It only
// reaches framed pages (program segments, stacks, trap contexts); identity
// areas never back a user-supplied pointer.
func (as *AddressSpace) CopyOut(addr uint64, data []byte) (int, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	written := 0
	for written < len(data) {
		vpn, off := PageOffset(addr + uint64(written))
		f, ok := as.frames[vpn]
		if !ok {
			return written, fmt.Errorf("addrspace: copy out: unmapped page at vpn %d", vpn)
		}
		n := copy(f.Bytes()[off:], data[written:])
		written += n
	}
	return written, nil
}

// CopyIn copies len(buf) bytes from this address space starting at virtual
// byte address addr into buf.
func (as *AddressSpace) CopyIn(addr uint64, buf []byte) (int, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	read := 0
	for read < len(buf) {
		vpn, off := PageOffset(addr + uint64(read))
		f, ok := as.frames[vpn]
		if !ok {
			return read, fmt.Errorf("addrspace: copy in: unmapped page at vpn %d", vpn)
		}
		n := copy(buf[read:], f.Bytes()[off:])
		read += n
	}
	return read, nil
}

// CopyInString reads a NUL-terminated string starting at virtual byte
// address addr, up to maxLen bytes, per spec.md §4.10's user path-pointer
// arguments (open, exec).
func (as *AddressSpace) CopyInString(addr uint64, maxLen int) (string, error) {
	buf := make([]byte, 0, 64)
	one := make([]byte, 1)
	for i := 0; i < maxLen; i++ {
		if _, err := as.CopyIn(addr+uint64(i), one); err != nil {
			return "", err
		}
		if one[0] == 0 {
			return string(buf), nil
		}
		buf = append(buf, one[0])
	}
	return "", fmt.Errorf("addrspace: string exceeds %d bytes without terminator", maxLen)
}
