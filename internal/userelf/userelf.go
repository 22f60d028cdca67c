// Package userelf builds the minimal ELF64/RISC-V image vm.FromELF needs
// to derive a task's address-space layout and entry point. debug/elf only
// parses ELF files and has no writer counterpart, and since the hosting
// model stands every "user program" in for a Go closure rather than
// compiled machine code, the bytes this package emits for PT_LOAD's
// payload are never executed; only their size, permissions, and load
// address matter, so a small writer covering exactly the fields vm.FromELF
// reads is the right-sized tool.
package userelf

import "encoding/binary"

const (
	ehdrSize = 64
	phdrSize = 56

	etExec  = 2
	emRISCV = 243
	ptLoad  = 1
	pfX     = 1
	pfW     = 2
	pfR     = 4
)

// Base is the virtual address every built image loads its single segment
// at; low enough to leave the whole upper address space for the user
// stack and TRAP_CONTEXT/TRAMPOLINE pages vm.FromELF lays out above it.
const Base uint64 = 0x10000

// Build returns a minimal ELF64 LSB executable for RISC-V with one
// PT_LOAD R+X segment of size bytes at Base, entry point Base. A size
// below 16 bytes is rounded up to 16.
func Build(size int) []byte {
	if size < 16 {
		size = 16
	}
	offset := ehdrSize + phdrSize
	buf := make([]byte, offset+size)

	// e_ident
	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT

	le := binary.LittleEndian
	le.PutUint16(buf[16:18], etExec)
	le.PutUint16(buf[18:20], emRISCV)
	le.PutUint32(buf[20:24], 1) // e_version
	le.PutUint64(buf[24:32], Base)
	le.PutUint64(buf[32:40], ehdrSize) // e_phoff
	le.PutUint64(buf[40:48], 0)        // e_shoff
	le.PutUint32(buf[48:52], 0)        // e_flags
	le.PutUint16(buf[52:54], ehdrSize)
	le.PutUint16(buf[54:56], phdrSize)
	le.PutUint16(buf[56:58], 1) // e_phnum
	le.PutUint16(buf[58:60], 0)
	le.PutUint16(buf[60:62], 0)
	le.PutUint16(buf[62:64], 0)

	p := buf[ehdrSize : ehdrSize+phdrSize]
	le.PutUint32(p[0:4], ptLoad)
	le.PutUint32(p[4:8], pfR|pfX)
	le.PutUint64(p[8:16], uint64(offset))  // p_offset
	le.PutUint64(p[16:24], Base)           // p_vaddr
	le.PutUint64(p[24:32], Base)           // p_paddr
	le.PutUint64(p[32:40], uint64(size))   // p_filesz
	le.PutUint64(p[40:48], uint64(size))   // p_memsz
	le.PutUint64(p[48:56], 0x1000)         // p_align

	return buf
}
