package vfs

// Stat mirrors a file's metadata, generalized from the teacher's
// Stat_t (vfs/stat_teacher.go) field set. Exported fields replace the
// teacher's accessor-method pattern since this struct has no fixed
// wire marshaling requirement (nothing here is copied raw into a user
// buffer the way biscuit's syscall ABI needed unsafe.Pointer access).
type Stat struct {
	Dev    uint
	Ino    uint
	Mode   uint
	Size   uint64
	Rdev   uint
	NLink  uint
	Mtime  int64
}

// File mode bits, matching what Touch/Mkdir/Stat report.
const (
	ModeFile = 1 << iota
	ModeDir
)

// StatOf fills a Stat from a resolved descriptor.
func StatOf(d *Descriptor) Stat {
	mode := uint(ModeFile)
	if d.Kind == KindDir {
		mode = ModeDir
	}
	return Stat{
		Ino:   uint(d.Location),
		Mode:  mode,
		Size:  d.Size,
		Mtime: d.Mtime,
	}
}
