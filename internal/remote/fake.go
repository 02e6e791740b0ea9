package remote

import "context"

// FakeClient is a function-field test double for Client, in the style the
// teacher uses for its own workspace API fakes. When the corresponding func
// field is nil, Upload/Mkdir/Delete/Move succeed as no-ops and List/Download
// return ErrNotFound.
type FakeClient struct {
	ListFunc     func(ctx context.Context, path string) ([]FileAttributes, error)
	UploadFunc   func(ctx context.Context, localPath, remotePath string) error
	DownloadFunc func(ctx context.Context, remotePath, localPath string) error
	MkdirFunc    func(ctx context.Context, path string) error
	DeleteFunc   func(ctx context.Context, path string) error
	MoveFunc     func(ctx context.Context, src, dst string) error
}

func (f *FakeClient) List(ctx context.Context, path string) ([]FileAttributes, error) {
	if f.ListFunc != nil {
		return f.ListFunc(ctx, path)
	}
	return nil, ErrNotFound
}

func (f *FakeClient) Upload(ctx context.Context, localPath, remotePath string) error {
	if f.UploadFunc != nil {
		return f.UploadFunc(ctx, localPath, remotePath)
	}
	return nil
}

func (f *FakeClient) Download(ctx context.Context, remotePath, localPath string) error {
	if f.DownloadFunc != nil {
		return f.DownloadFunc(ctx, remotePath, localPath)
	}
	return ErrNotFound
}

func (f *FakeClient) Mkdir(ctx context.Context, path string) error {
	if f.MkdirFunc != nil {
		return f.MkdirFunc(ctx, path)
	}
	return nil
}

func (f *FakeClient) Delete(ctx context.Context, path string) error {
	if f.DeleteFunc != nil {
		return f.DeleteFunc(ctx, path)
	}
	return nil
}

func (f *FakeClient) Move(ctx context.Context, src, dst string) error {
	if f.MoveFunc != nil {
		return f.MoveFunc(ctx, src, dst)
	}
	return nil
}
