package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const (
	folderMime      = "application/vnd.google-apps.folder"
	sheetMime       = "application/vnd.google-apps.spreadsheet"
	xlsxMime        = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	fileFields      = "id, name, mimeType, modifiedTime, size"
	listPageSize    = 200
	rootFolderAlias = "root"
)

// ErrFolderNotFound is returned when a folder path does not resolve.
var ErrFolderNotFound = errors.New("folder not found")

// Source is the read-only slice of Google Drive the intake needs.
type Source interface {
	ListFiles(ctx context.Context, folderID string) ([]*File, error)
	GetFile(ctx context.Context, fileID string) (*File, error)
	DownloadFile(ctx context.Context, fileID string, w io.Writer) error
	FindFolderByPath(ctx context.Context, path string) (string, error)
}

// Service reads forecast sheets from Drive with a service account.
type Service struct {
	srv *drive.Service
}

// NewService authenticates with service account credentials and read-only
// scope.
func NewService(ctx context.Context, credentialsJSON string) (*Service, error) {
	jwt, err := google.JWTConfigFromJSON([]byte(credentialsJSON), drive.DriveReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse drive credentials: %w", err)
	}
	srv, err := drive.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create drive client: %w", err)
	}
	return &Service{srv: srv}, nil
}

// File is the metadata of a Drive file. Native Google Sheets are listed with an
// .xlsx suffix since they download as XLSX exports.
type File struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MimeType     string `json:"mimeType"`
	ModifiedTime string `json:"modifiedTime,omitempty"`
	Size         int64  `json:"size,string,omitempty"`
}

func fromDrive(f *drive.File) *File {
	name := f.Name
	if f.MimeType == sheetMime && !strings.HasSuffix(strings.ToLower(name), ".xlsx") {
		name += ".xlsx"
	}
	return &File{ID: f.Id, Name: name, MimeType: f.MimeType, ModifiedTime: f.ModifiedTime, Size: f.Size}
}

// ListFiles returns every non-trashed file directly under folderID, following
// pagination. An empty id means the drive root.
func (s *Service) ListFiles(ctx context.Context, folderID string) ([]*File, error) {
	if folderID == "" {
		folderID = rootFolderAlias
	}

	var files []*File
	call := s.srv.Files.List().
		Q(fmt.Sprintf("'%s' in parents and trashed=false", quote(folderID))).
		Fields("nextPageToken", "files("+fileFields+")").
		PageSize(listPageSize).
		OrderBy("name")
	err := call.Pages(ctx, func(page *drive.FileList) error {
		for _, f := range page.Files {
			files = append(files, fromDrive(f))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list folder %s: %w", folderID, err)
	}
	return files, nil
}

func (s *Service) GetFile(ctx context.Context, fileID string) (*File, error) {
	f, err := s.srv.Files.Get(fileID).Fields(fileFields).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", fileID, err)
	}
	return fromDrive(f), nil
}

// DownloadFile copies the content of fileID to w, exporting native Google
// Sheets as XLSX.
func (s *Service) DownloadFile(ctx context.Context, fileID string, w io.Writer) error {
	meta, err := s.srv.Files.Get(fileID).Fields("mimeType").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get file %s: %w", fileID, err)
	}

	var body io.ReadCloser
	if meta.MimeType == sheetMime {
		resp, err := s.srv.Files.Export(fileID, xlsxMime).Context(ctx).Download()
		if err != nil {
			return fmt.Errorf("export sheet %s: %w", fileID, err)
		}
		body = resp.Body
	} else {
		resp, err := s.srv.Files.Get(fileID).Context(ctx).Download()
		if err != nil {
			return fmt.Errorf("download %s: %w", fileID, err)
		}
		body = resp.Body
	}
	defer body.Close()

	_, err = io.Copy(w, body)
	return err
}

// FindFolderByPath walks a slash separated folder path from the drive root.
func (s *Service) FindFolderByPath(ctx context.Context, path string) (string, error) {
	current := rootFolderAlias
	for _, name := range strings.Split(path, "/") {
		if name == "" {
			continue
		}
		res, err := s.srv.Files.List().
			Q(fmt.Sprintf("'%s' in parents and name='%s' and mimeType='%s' and trashed=false",
				quote(current), quote(name), folderMime)).
			Fields("files(id)").
			PageSize(1).
			Context(ctx).
			Do()
		if err != nil {
			return "", fmt.Errorf("look up folder %s: %w", name, err)
		}
		if len(res.Files) == 0 {
			return "", fmt.Errorf("%w: %s", ErrFolderNotFound, path)
		}
		current = res.Files[0].Id
	}
	return current, nil
}

// quote escapes a value for a Drive query string literal.
func quote(v string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v)
}

var _ Source = (*Service)(nil)
