// Command kernel is the hosted kernel simulator: it wires together
// every internal/ layer exactly in the order original_source's
// src/kernel/core/main.c boots a real machine (klog, then memory, then
// storage/partitions/VFS, then multitasking, with an early exit into a
// self-test run when the command line says "tests"), except each stage
// that would touch real hardware is replaced by its hosted counterpart:
// a disk image file stands in for a boot device, and a synthetic
// multiboot memory-map blob stands in for what GRUB would have left in
// place of a real BIOS/UEFI memory probe.
package main

import (
	"encoding/binary"
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"

	"kernel/internal/bootcfg"
	"kernel/internal/defs"
	"kernel/internal/elf"
	"kernel/internal/kheap"
	"kernel/internal/klog"
	"kernel/internal/mem"
	"kernel/internal/multiboot"
	"kernel/internal/partition"
	"kernel/internal/proc"
	"kernel/internal/simplefs"
	"kernel/internal/storage"
	"kernel/internal/vfs"
	"kernel/internal/vm"
)

// options is the process-level command line of the simulator binary
// itself, distinct from the in-band kernel command line (Cmdline
// below) that internal/bootcfg parses the way a real bootloader would
// hand it to kernel_main.
type options struct {
	Image    string `short:"i" long:"image" description:"path to the disk image to boot from" required:"true"`
	Cmdline  string `short:"c" long:"cmdline" description:"kernel command line (root=dNpM, tests)" default:"root=d0p1"`
	MemMB    uint64 `long:"mem-mb" description:"simulated physical memory, in megabytes" default:"64"`
	InitProg string `long:"init" description:"path within the root filesystem of the first program to exec" default:"/init"`
	Ticks    int    `long:"ticks" description:"scheduler ticks to run before halting" default:"20"`
	Verbose  bool   `short:"v" long:"verbose" description:"enable verbose subsystem logging"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}
	klog.SetVerbose(opts.Verbose)

	cfg := bootcfg.Parse(opts.Cmdline)
	klog.Printf("kernel: booting image %s, cmdline=%q", opts.Image, opts.Cmdline)

	regions, err := memoryRegions(opts.MemMB)
	if err != 0 {
		klog.Fatalf("kernel: decoding synthetic multiboot memory map: %v", err)
	}
	klog.Printf("kernel: initializing physical memory manager (%d MB)", opts.MemMB)
	const kernelReserve = 1 << 20 // reserve the low 1 MB, the way kernel_start/kernel_end do on a real boot
	alloc := mem.NewAllocator(regions, 0, kernelReserve)
	numFrames := uint32((opts.MemMB << 20) >> mem.PGSHIFT)
	phys := mem.NewPhysMem(numFrames)

	space, serr := vm.NewSpace(alloc, phys, kernelReserve)
	if serr != 0 {
		klog.Fatalf("kernel: creating kernel address space: %v", serr)
	}

	klog.Printf("kernel: initializing kernel heap")
	heap, herr := kheap.New(alloc, phys, 1<<20)
	if herr != 0 {
		klog.Fatalf("kernel: initializing kernel heap: %v", herr)
	}

	klog.Printf("kernel: initializing scheduler")
	sched := proc.New(nil)
	initPid, cerr := sched.Create("init", 0, 1)
	if cerr != 0 {
		klog.Fatalf("kernel: creating init process: %v", cerr)
	}

	if cfg.RunTests {
		klog.Printf("kernel: running self-check")
		runSelfCheck(alloc, heap)
		klog.Printf("kernel: self-check finished, halting")
		return
	}

	klog.Printf("kernel: opening disk image %s", opts.Image)
	dev, derr := storage.OpenFileDevice(opts.Image)
	if derr != 0 {
		klog.Fatalf("kernel: opening %s: %v", opts.Image, derr)
	}
	defer dev.Close()

	klog.Printf("kernel: discovering partitions")
	parts, perr := partition.DiscoverErr(0, dev)
	if perr != nil {
		klog.Fatalf("kernel: %v", perr)
	}
	if len(parts) == 0 {
		klog.Fatalf("kernel: no partitions found on %s", opts.Image)
	}

	rootPart, ok := selectRoot(parts, cfg)
	if !ok {
		klog.Fatalf("kernel: requested root partition not found among %d discovered partitions", len(parts))
	}

	klog.Printf("kernel: initializing file system")
	reg := vfs.NewRegistry()
	reg.Register(simplefs.NewDriver())
	drv := reg.Probe(dev, rootPart)
	if drv == nil {
		klog.Fatalf("kernel: no driver claims root partition %d", rootPart.PartNo)
	}

	mt := vfs.NewMountTable()
	rootMount, merr := mt.Mount("/", dev, rootPart, drv)
	if merr != 0 {
		klog.Fatalf("kernel: mounting root: %v", merr)
	}

	klog.Printf("kernel: starting multi-tasking")
	loader := elf.NewLoader(mt, space, sched, elf.NewTable())
	pid, eerr := loader.ExecveErr(opts.InitProg, []string{opts.InitProg}, nil, rootMount.Root, initPid, 1)
	if eerr != nil {
		klog.Fatalf("kernel: %v", eerr)
	}
	klog.Printf("kernel: started %s as pid %d", opts.InitProg, pid)

	runScheduler(sched, opts.Ticks)

	free, used, total := alloc.Stats()
	klog.Printf("kernel: halting after %d ticks (frames free=%d used=%d total=%d, heap free=%d bytes)",
		opts.Ticks, free, used, total, heap.FreeBytes())
}

// memoryRegions builds a synthetic multiboot2 memory-map tag describing
// one Available region spanning memMB megabytes, the hosted stand-in
// for what a real bootloader leaves for kernel_main to decode, and
// decodes it back through internal/multiboot exactly as a real boot
// would.
func memoryRegions(memMB uint64) ([]mem.Region, defs.Err_t) {
	const entrySize = 24
	payload := make([]byte, 8+entrySize)
	binary.LittleEndian.PutUint32(payload[0:], entrySize)
	// payload[4:8] is entry_version, left zero.
	binary.LittleEndian.PutUint64(payload[8:], 0)         // base_addr
	binary.LittleEndian.PutUint64(payload[16:], memMB<<20) // length
	binary.LittleEndian.PutUint32(payload[24:], 1)         // type 1 == available

	tag := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint32(tag[0:], multiboot.MemoryMapTagType)
	binary.LittleEndian.PutUint32(tag[4:], uint32(len(tag)))
	copy(tag[8:], payload)
	// terminating type-0 tag
	info := append(tag, make([]byte, 8)...)

	var regions []mem.Region
	var errOut defs.Err_t
	multiboot.Iterate(info, func(t multiboot.Tag) bool {
		if t.Type != multiboot.MemoryMapTagType {
			return true
		}
		rs, err := multiboot.ParseMemoryMap(t.Payload)
		if err != 0 {
			errOut = err
			return false
		}
		regions = rs
		return false
	})
	return regions, errOut
}

// selectRoot picks the partition cfg's root=dNpM token names, or the
// first discovered partition if the command line named none.
func selectRoot(parts []partition.Partition, cfg bootcfg.Config) (partition.Partition, bool) {
	if !cfg.RootValid {
		return parts[0], true
	}
	for _, p := range parts {
		if p.DevNo == cfg.RootDevNo && p.PartNo == cfg.RootPartNo {
			return p, true
		}
	}
	return partition.Partition{}, false
}

// runScheduler drives the discrete-event scheduler for up to ticks
// rounds, dispatching the highest-priority ready process and advancing
// its clock, the hosted stand-in for the timer-interrupt-driven
// preemption a real kernel relies on.
func runScheduler(sched *proc.Sched, ticks int) {
	const tickMs = 10
	for i := 0; i < ticks; i++ {
		pid := sched.Dispatch()
		if pid == 0 {
			klog.V("kernel: tick %d: idle", i)
			continue
		}
		klog.V("kernel: tick %d: running pid %d", i, pid)
		sched.Tick(tickMs)
	}
}

// runSelfCheck exercises the allocator and heap directly, the hosted
// stand-in for original_source's run_tests() path taken when the
// command line is exactly "tests" (src/kernel/core/main.c).
func runSelfCheck(alloc *mem.Allocator, heap *kheap.Heap) {
	free, used, total := alloc.Stats()
	fmt.Printf("self-check: frames free=%d used=%d total=%d\n", free, used, total)

	buf, err := heap.Malloc(256)
	if err != 0 {
		klog.Fatalf("self-check: heap allocation failed: %v", err)
	}
	for i := range buf {
		buf[i] = byte(i)
	}
	heap.Free(buf)
	if werr := heap.Walk(); werr != 0 {
		klog.Fatalf("self-check: heap consistency check failed: %v", werr)
	}
	fmt.Println("self-check: heap round-trip ok")
}
