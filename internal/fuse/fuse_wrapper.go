package fuse

import (
	"context"
	"path"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"go.uber.org/zap"

	"github.com/seafile-fuse/seafs-go/internal/repo"
)

// FuseFS implements the fuse.FS interface.
//
// Extended attributes, chmod/chown, statfs, symlinks, hard links and
// mknod are deliberately not implemented: the corresponding optional
// node interfaces are left unsatisfied so the kernel gets ENOSYS
// instead of a silent success.
type FuseFS struct {
	filesystem *Filesystem
}

var _ fs.FS = (*FuseFS)(nil)

// Root returns the root directory
func (f *FuseFS) Root() (fs.Node, error) {
	return &Dir{filesystem: f.filesystem, path: "/"}, nil
}

// Dir represents a directory node
type Dir struct {
	filesystem *Filesystem
	path       string
}

var _ fs.Node = (*Dir)(nil)
var _ fs.NodeStringLookuper = (*Dir)(nil)
var _ fs.HandleReadDirAller = (*Dir)(nil)
var _ fs.NodeMkdirer = (*Dir)(nil)
var _ fs.NodeCreater = (*Dir)(nil)
var _ fs.NodeRemover = (*Dir)(nil)
var _ fs.NodeRenamer = (*Dir)(nil)

func (d *Dir) child(name string) string {
	return path.Join(d.path, name)
}

// Attr returns directory attributes
func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	attr, err := d.filesystem.GetAttr(ctx, d.path)
	if err != nil {
		return err
	}
	fillAttr(a, attr)
	return nil
}

// Lookup looks up a child node
func (d *Dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	childPath := d.child(name)
	attr, err := d.filesystem.GetAttr(ctx, childPath)
	if err != nil {
		return nil, syscall.ENOENT
	}
	if attr.Mode.IsDir() {
		return &Dir{filesystem: d.filesystem, path: childPath}, nil
	}
	return &File{filesystem: d.filesystem, path: childPath}, nil
}

// ReadDirAll reads all directory entries
func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	entries := d.filesystem.ReadDir(ctx, d.path)
	dirents := make([]fuse.Dirent, 0, len(entries))
	for _, entry := range entries {
		dirent := fuse.Dirent{Name: entry.Name, Type: fuse.DT_File}
		if entry.IsDir {
			dirent.Type = fuse.DT_Dir
		}
		dirents = append(dirents, dirent)
	}
	return dirents, nil
}

// Mkdir creates a new directory
func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	childPath := d.child(req.Name)
	if err := d.filesystem.Mkdir(ctx, childPath); err != nil {
		return nil, err
	}
	return &Dir{filesystem: d.filesystem, path: childPath}, nil
}

// Create creates a new file in the directory
func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	childPath := d.child(req.Name)
	if err := d.filesystem.Create(ctx, childPath); err != nil {
		return nil, nil, err
	}
	file := &File{filesystem: d.filesystem, path: childPath}
	return file, file, nil
}

// Remove removes a file or directory
func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	childPath := d.child(req.Name)
	if req.Dir {
		return d.filesystem.Rmdir(ctx, childPath)
	}
	return d.filesystem.Unlink(ctx, childPath)
}

// Rename renames or moves a child into newDir
func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fs.Node) error {
	target, ok := newDir.(*Dir)
	if !ok {
		return syscall.EIO
	}
	return d.filesystem.Rename(ctx, d.child(req.OldName), target.child(req.NewName))
}

// File represents a file node
type File struct {
	filesystem *Filesystem
	path       string
}

var _ fs.Node = (*File)(nil)
var _ fs.NodeOpener = (*File)(nil)
var _ fs.NodeSetattrer = (*File)(nil)
var _ fs.HandleReader = (*File)(nil)
var _ fs.HandleWriter = (*File)(nil)
var _ fs.HandleFlusher = (*File)(nil)
var _ fs.NodeFsyncer = (*File)(nil)
var _ fs.HandleReleaser = (*File)(nil)

// Attr returns file attributes
func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	attr, err := f.filesystem.GetAttr(ctx, f.path)
	if err != nil {
		return err
	}
	fillAttr(a, attr)
	return nil
}

// Open stages the remote content locally
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	f.filesystem.Open(ctx, f.path)
	return f, nil
}

// Setattr handles truncation. Mode and ownership changes are not
// supported by the remote store.
func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Mode() || req.Valid.Uid() || req.Valid.Gid() {
		return syscall.ENOTSUP
	}
	if req.Valid.Size() {
		f.filesystem.Truncate(ctx, f.path, int64(req.Size))
	}
	attr, err := f.filesystem.GetAttr(ctx, f.path)
	if err != nil {
		return err
	}
	fillAttr(&resp.Attr, attr)
	if req.Valid.Size() {
		resp.Attr.Size = req.Size
	}
	return nil
}

// Read reads from the staged buffer
func (f *File) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	resp.Data = f.filesystem.Read(ctx, f.path, req.Size, req.Offset)
	return nil
}

// Write writes into the staged buffer
func (f *File) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	resp.Size = f.filesystem.Write(ctx, f.path, req.Data, req.Offset)
	return nil
}

// Flush writes back dirty data
func (f *File) Flush(ctx context.Context, req *fuse.FlushRequest) error {
	f.filesystem.Flush(ctx, f.path)
	return nil
}

// Fsync writes back dirty data
func (f *File) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	f.filesystem.Fsync(ctx, f.path)
	return nil
}

// Release closes the file handle
func (f *File) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	f.filesystem.Release(ctx, f.path)
	return nil
}

func fillAttr(a *fuse.Attr, attr *Attr) {
	a.Mode = attr.Mode
	a.Size = uint64(attr.Size)
	a.Ctime = attr.Ctime
	a.Mtime = attr.Mtime
	a.Uid = attr.Uid
	a.Gid = attr.Gid
}

// Mount mounts a repository at the given mountpoint and serves kernel
// requests until the filesystem is unmounted
func Mount(mountpoint string, r repo.Repository, opts Options) error {
	filesystem := NewFilesystem(r, opts)
	fuseFS := &FuseFS{filesystem: filesystem}

	c, err := fuse.Mount(
		mountpoint,
		fuse.FSName("seafs"),
		fuse.Subtype("seafs-go"),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("mounted filesystem", zap.String("mountpoint", mountpoint))

	return fs.Serve(c, fuseFS)
}
