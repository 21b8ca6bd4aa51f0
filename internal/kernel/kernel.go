// Package kernel implements C9, the kernel-install adapter: it issues the
// ordered control-surface calls of spec §6.3 through an opaque control file
// descriptor, using golang.org/x/sys/unix for the underlying ioctl and
// memory-mapping syscalls the way the teacher's compiler backend reaches
// for x/sys primitives rather than hand-rolled syscall numbers.
package kernel

import (
	"encoding/binary"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/xyproto/cosloader/internal/capability"
	"github.com/xyproto/cosloader/internal/diag"
	"github.com/xyproto/cosloader/internal/registry"
)

// Control command numbers for the loader's private ioctl interface. These
// are loader-private (not part of a public kernel UAPI header retrieved
// with the pack), grouped the way the original groups its aed_ioctl
// request codes.
const (
	ioctlCreateComponent = 0x434f5301 // "COS" + 01
	ioctlAddCapability   = 0x434f5302
	ioctlPromoteSched    = 0x434f5303
	ioctlCreateThread    = 0x434f5304
	ioctlDisableSyscalls = 0x434f5305
	ioctlEnableSyscalls  = 0x434f5306
)

// ControlDevice is the default path to the kernel's control device.
const ControlDevice = "/dev/cos_ctl"

// Installer drives C9 against an open control file descriptor.
type Installer struct {
	fd  int
	log *diag.Logger
}

// Open opens the kernel control device at path (ControlDevice by default).
func Open(path string, log *diag.Logger) (*Installer, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, diag.Wrap(diag.KindKernel, path, "", err)
	}
	return &Installer{fd: int(f.Fd()), log: log}, nil
}

// Close releases the control file descriptor.
func (in *Installer) Close() error {
	return unix.Close(in.fd)
}

// createComponentArgs mirrors create_component's packed argument tuple
// (spec §6.3): addr, size, 10 atomic-region addresses, upcall entry,
// usrcaps table address, and capability count.
type createComponentArgs struct {
	addr, size      uint32
	atomicRegions   [registry.NumAtomicSymbols]uint32
	upcall          uint32
	usrcapsAddr     uint32
	ncaps           uint32
}

// CreateComponent registers c with the kernel and returns its assigned id.
func (in *Installer) CreateComponent(c *registry.Component, upcall, usrcapsAddr uint32, ncaps int) (uint32, error) {
	args := createComponentArgs{
		addr:          c.LowerAddr,
		size:          c.Size,
		atomicRegions: c.AtomicRegions,
		upcall:        upcall,
		usrcapsAddr:   usrcapsAddr,
		ncaps:         uint32(ncaps),
	}
	buf := encodeCreateComponent(args)

	id, err := in.ioctl(ioctlCreateComponent, buf)
	if err != nil {
		return 0, diag.Wrap(diag.KindKernel, c.Name, "", err)
	}
	if id == 0 {
		return 0, diag.New(diag.KindKernel, c.Name, "", "create_component returned id 0")
	}
	c.SpdID = int(id)
	return id, nil
}

// AddCapability installs one invocation capability with the kernel, per
// spec §4.7/§6.3. flags currently encodes only the fault-handler kind.
func (in *Installer) AddCapability(invCap capability.Capability, ownerID, destID uint32) error {
	flags := uint32(invCap.FaultHandlerKind)
	args := []uint32{ownerID, destID, uint32(invCap.RelOffset), 0, flags, invCap.ServerEntry}
	handle, err := in.ioctl(ioctlAddCapability, encodeUint32s(args))
	if err != nil {
		return diag.Wrap(diag.KindKernel, invCap.Caller.Name, invCap.ClientFn, err)
	}
	if handle == 0 {
		return diag.New(diag.KindKernel, invCap.Caller.Name, invCap.ClientFn, "add_capability returned a null handle")
	}
	return nil
}

// PromoteScheduler registers id as a scheduler with the kernel, with
// parentID == 0 meaning "no parent" (the root scheduler).
func (in *Installer) PromoteScheduler(id, parentID uint32, notifPageVaddr uint32) error {
	args := []uint32{id, parentID, notifPageVaddr}
	if _, err := in.ioctl(ioctlPromoteSched, encodeUint32s(args)); err != nil {
		return diag.Wrap(diag.KindKernel, "", "", err)
	}
	return nil
}

// CreateThread creates the initial thread for componentID under
// schedulerID.
func (in *Installer) CreateThread(componentID, schedulerID uint32) error {
	args := []uint32{componentID, schedulerID}
	if _, err := in.ioctl(ioctlCreateThread, encodeUint32s(args)); err != nil {
		return diag.Wrap(diag.KindKernel, "", "", err)
	}
	return nil
}

// DisableSyscalls and EnableSyscalls bracket the initial control transfer
// (spec §6.3).
func (in *Installer) DisableSyscalls() error {
	_, err := in.ioctl(ioctlDisableSyscalls, nil)
	return err
}

func (in *Installer) EnableSyscalls() error {
	_, err := in.ioctl(ioctlEnableSyscalls, nil)
	return err
}

// ioctl issues req against the control fd with buf as the argument
// payload, returning the kernel's int32 reply. A negative reply is an
// error per spec §6.3.
func (in *Installer) ioctl(req uint, buf []byte) (uint32, error) {
	var ptr unsafe.Pointer
	if len(buf) > 0 {
		ptr = unsafe.Pointer(&buf[0])
	}

	r1, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(in.fd), uintptr(req), uintptr(ptr))
	if errno != 0 {
		return 0, errno
	}

	reply := int32(r1)
	if reply < 0 {
		return 0, diag.New(diag.KindKernel, "", "", "kernel control call returned a negative status")
	}
	return uint32(reply), nil
}

func encodeUint32s(vals []uint32) []byte {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return buf
}

func encodeCreateComponent(a createComponentArgs) []byte {
	vals := make([]uint32, 0, 2+registry.NumAtomicSymbols+3)
	vals = append(vals, a.addr, a.size)
	vals = append(vals, a.atomicRegions[:]...)
	vals = append(vals, a.upcall, a.usrcapsAddr, a.ncaps)
	return encodeUint32s(vals)
}

// MapComponentMemory maps c's address window as private, anonymous,
// fixed-address, read+write (temporarily, so the loader can initialize
// it), matching spec §4.6's host-memory deployment path.
//
// unix.Mmap always requests address 0 from the kernel, so a true
// fixed-address anonymous mapping needs the raw mmap(2) syscall directly
// rather than that wrapper.
func MapComponentMemory(c *registry.Component) ([]byte, error) {
	addr, _, errno := unix.Syscall6(unix.SYS_MMAP,
		uintptr(c.LowerAddr), uintptr(c.Size),
		uintptr(unix.PROT_READ|unix.PROT_WRITE),
		uintptr(unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_FIXED),
		^uintptr(0), 0)
	if errno != 0 {
		return nil, diag.Wrap(diag.KindKernel, c.Name, "", errno)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), c.Size), nil
}

// FinalizeComponentMemory drops write permission once initialization is
// complete, leaving PROT_READ|PROT_EXEC per spec §4.6.
func FinalizeComponentMemory(mem []byte) error {
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return diag.Wrap(diag.KindKernel, "", "", err)
	}
	return nil
}
