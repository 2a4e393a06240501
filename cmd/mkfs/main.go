// Command mkfs builds a disk image containing an MBR partition table and
// one simplefs volume per partition, optionally populated from host
// files named in a YAML manifest.
//
// Grounded on the teacher's mkfs (biscuit/src/mkfs/mkfs.go, preserved in
// this tree as mkfs_teacher.go before this rewrite): the same
// addfiles/copydata walk-the-skeleton-directory shape, re-targeted at
// internal/simplefs instead of the teacher's ufs package, and extended
// with partition geometry and per-partition file lists read from a YAML
// manifest (gopkg.in/yaml.v2) rather than fixed log/inode/data block
// counts baked into the binary.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	flags "github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v2"

	"kernel/internal/cache"
	"kernel/internal/partition"
	"kernel/internal/simplefs"
	"kernel/internal/storage"
	"kernel/internal/vfs"
)

// options is the mkfs command line, parsed by go-flags the way
// canonical-snapd's cmd/snap builds its *flags.Parser from a tagged
// struct (cmd_help_test.go exercises that parser's help output).
type options struct {
	Output   string `short:"o" long:"output" description:"path of the disk image to create" required:"true"`
	Manifest string `short:"m" long:"manifest" description:"YAML manifest describing partitions and files to inject" required:"true"`
	Verbose  bool   `short:"v" long:"verbose" description:"print each file as it is copied in"`
}

// fileEntry names one host file to inject at a path inside a partition's
// filesystem; dest may contain directory components, which are created
// as needed.
type fileEntry struct {
	Source string `yaml:"source"`
	Dest   string `yaml:"dest"`
}

// partitionSpec describes one partition to create: its size, inode
// count, and the files and host directory trees to seed it with.
type partitionSpec struct {
	Name      string      `yaml:"name"`
	Sectors   uint64      `yaml:"sectors"`
	NumInodes uint32      `yaml:"inodes"`
	Bootable  bool        `yaml:"bootable"`
	SkelDir   string      `yaml:"skel_dir"`
	Files     []fileEntry `yaml:"files"`
}

// manifest is the top-level YAML document mkfs reads: the partitions to
// lay out on the image, in order.
type manifest struct {
	Partitions []partitionSpec `yaml:"partitions"`
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

	man, err := loadManifest(opts.Manifest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: %v\n", err)
		os.Exit(1)
	}

	if err := build(opts, man); err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: %v\n", err)
		os.Exit(1)
	}
}

func loadManifest(path string) (manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return manifest{}, fmt.Errorf("reading manifest: %w", err)
	}
	var man manifest
	if err := yaml.Unmarshal(raw, &man); err != nil {
		return manifest{}, fmt.Errorf("parsing manifest: %w", err)
	}
	if len(man.Partitions) == 0 {
		return manifest{}, fmt.Errorf("manifest names no partitions")
	}
	if len(man.Partitions) > 4 {
		return manifest{}, fmt.Errorf("at most four primary partitions are supported, got %d", len(man.Partitions))
	}
	return man, nil
}

func build(opts options, man manifest) error {
	var totalSectors uint64 = 1 // MBR sector
	offsets := make([]uint64, len(man.Partitions))
	for i, p := range man.Partitions {
		offsets[i] = totalSectors
		totalSectors += p.Sectors
	}

	dev, derr := storage.CreateFileDevice(opts.Output, totalSectors)
	if derr != 0 {
		return fmt.Errorf("creating %s: %v", opts.Output, derr)
	}
	defer dev.Close()

	entries := make([]partition.MBREntry, len(man.Partitions))
	for i, p := range man.Partitions {
		entries[i] = partition.MBREntry{
			Bootable:    p.Bootable,
			SysID:       0x83, // "Linux" type code, the closest stand-in for a plain data partition
			FirstSector: uint32(offsets[i]),
			NumSectors:  uint32(p.Sectors),
		}
	}
	if err := partition.WriteMBR(dev, entries); err != 0 {
		return fmt.Errorf("writing partition table: %v", err)
	}

	for i, p := range man.Partitions {
		if err := buildPartition(dev, p, offsets[i], entries[i].SysID, i+1, opts.Verbose); err != nil {
			return err
		}
	}
	return nil
}

func buildPartition(dev storage.Device, p partitionSpec, firstSector uint64, sysID byte, partNo int, verbose bool) error {
	part := partition.Partition{
		DevNo:       0,
		PartNo:      partNo,
		Name:        p.Name,
		FirstSector: firstSector,
		NumSectors:  p.Sectors,
		Bootable:    p.Bootable,
		LegacyType:  sysID,
	}
	view := partition.NewView(dev, part)
	totalBlocks := uint32(p.Sectors * uint64(storage.SectorSize) / simplefs.BlockSize)
	c := cache.New(view, simplefs.BlockSize, 64)
	sb, ferr := simplefs.Format(c, totalBlocks, p.NumInodes)
	if ferr != 0 {
		return fmt.Errorf("formatting partition %q: %v", p.Name, ferr)
	}

	root, rerr := sb.RootDescriptor()
	if rerr != 0 {
		return fmt.Errorf("root descriptor of partition %q: %v", p.Name, rerr)
	}

	if p.SkelDir != "" {
		if err := addTree(sb, root, p.SkelDir, verbose); err != nil {
			return err
		}
	}
	for _, f := range p.Files {
		if err := copyFileInto(sb, root, f.Source, f.Dest); err != nil {
			return err
		}
		if verbose {
			fmt.Printf("mkfs: %s -> %s:%s\n", f.Source, p.Name, f.Dest)
		}
	}

	if err := sb.Flush(); err != 0 {
		return fmt.Errorf("flushing partition %q: %v", p.Name, err)
	}
	return nil
}

// addTree walks skelDir on the host and replicates every file and
// directory it finds under root. Grounded on the teacher's
// addfiles/copydata pair in mkfs_teacher.go, re-targeted at
// simplefs.Superblock's Touch/Mkdir/Write instead of ufs.Ufs_t's
// MkFile/MkDir/Append.
func addTree(sb *simplefs.Superblock, root *vfs.Descriptor, skelDir string, verbose bool) error {
	dirs := map[string]*vfs.Descriptor{".": root}

	return filepath.WalkDir(skelDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("accessing %q: %w", path, err)
		}
		rel, relErr := filepath.Rel(skelDir, path)
		if relErr != nil || rel == "." {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		parentRel := filepath.ToSlash(filepath.Dir(rel))
		parent, ok := dirs[parentRel]
		if !ok {
			return fmt.Errorf("walk order violated: %q has no parent entry for %q", rel, parentRel)
		}
		name := filepath.Base(rel)

		if d.IsDir() {
			desc, merr := sb.Mkdir(parent, name)
			if merr != 0 {
				return fmt.Errorf("mkdir %q: %v", rel, merr)
			}
			dirs[rel] = desc
			if verbose {
				fmt.Printf("mkfs: mkdir %s\n", rel)
			}
			return nil
		}

		if err := copyFileData(sb, parent, name, path); err != nil {
			return err
		}
		if verbose {
			fmt.Printf("mkfs: %s -> %s\n", path, rel)
		}
		return nil
	})
}

// copyFileInto creates destPath (which may name nested directories,
// created as needed) under root and copies hostPath's contents into it.
func copyFileInto(sb *simplefs.Superblock, root *vfs.Descriptor, hostPath, destPath string) error {
	destPath = strings.Trim(filepath.ToSlash(destPath), "/")
	dir, base := filepath.Split(destPath)
	parent, err := ensureDirs(sb, root, strings.Trim(dir, "/"))
	if err != nil {
		return err
	}
	return copyFileData(sb, parent, base, hostPath)
}

// ensureDirs walks relPath's components from root, creating any
// directory that does not already exist, and returns the final
// directory's descriptor.
func ensureDirs(sb *simplefs.Superblock, root *vfs.Descriptor, relPath string) (*vfs.Descriptor, error) {
	cur := root
	if relPath == "" {
		return cur, nil
	}
	for _, comp := range strings.Split(relPath, "/") {
		found, lerr := sb.Lookup(cur, comp)
		if lerr == 0 {
			cur = found
			continue
		}
		created, merr := sb.Mkdir(cur, comp)
		if merr != 0 {
			return nil, fmt.Errorf("mkdir %q: %v", comp, merr)
		}
		cur = created
	}
	return cur, nil
}

func copyFileData(sb *simplefs.Superblock, parent *vfs.Descriptor, name, hostPath string) error {
	src, err := os.Open(hostPath)
	if err != nil {
		return fmt.Errorf("opening %q: %w", hostPath, err)
	}
	defer src.Close()

	desc, terr := sb.Touch(parent, name)
	if terr != 0 {
		return fmt.Errorf("creating %q: %v", name, terr)
	}
	h, oerr := sb.Open(desc)
	if oerr != 0 {
		return fmt.Errorf("opening %q in image: %v", name, oerr)
	}
	defer sb.Close(h)

	buf := make([]byte, simplefs.BlockSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := sb.Write(h, buf[:n]); werr != 0 {
				return fmt.Errorf("writing %q: %v", name, werr)
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("reading %q: %w", hostPath, rerr)
		}
	}
}
