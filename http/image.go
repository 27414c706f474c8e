package http

import (
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"strings"
	"time"

	"github.com/dukerupert/hearth"
	"github.com/dukerupert/hearth/internal/validation"
	"github.com/dukerupert/hearth/media"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// imagesField is the multipart field holding the files of a batch.
const imagesField = "images"

// ImageResponse describes one stored original and where to fetch it.
type ImageResponse struct {
	ID         uuid.UUID         `json:"id"`
	Key        string            `json:"key"`
	URL        string            `json:"url"`
	Renditions map[string]string `json:"renditions,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

func (s *Server) handleUploadImages(c echo.Context) (err error) {
	defer s.observe("upload", time.Now(), &err)

	owner, err := requireOwner(c)
	if err != nil {
		return err
	}
	uploads, err := s.readUploads(c)
	if err != nil {
		return err
	}

	ctx, cancel := withUploadTimeout(c)
	defer cancel()

	assets, err := s.storeUploads(ctx, owner, hearth.StagePermanent, uploads)
	if err != nil {
		return err
	}

	images, err := s.imageResponses(ctx, owner.Kind, assets, hearth.PublicURL)
	if err != nil {
		return err
	}

	s.log(c).Info("images uploaded",
		slog.String("owner", owner.String()),
		slog.Int("count", len(images)))

	return RespondCreated(c, ListResponse[ImageResponse]{Data: images, Total: len(images)})
}

func (s *Server) handleListImages(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()

	owner, err := requireOwner(c)
	if err != nil {
		return err
	}

	assets, err := s.ownerAssets(ctx, owner)
	if err != nil {
		return err
	}

	keys := make([]string, len(assets))
	byKey := make(map[string]*hearth.Asset, len(assets))
	for i, a := range assets {
		keys[i] = a.Key
		byKey[a.Key] = a
	}
	ordered, err := s.pipeline.Ordered(ctx, keys)
	if err != nil {
		return err
	}
	for i, k := range ordered {
		assets[i] = byKey[k]
	}

	images, err := s.imageResponses(ctx, owner.Kind, assets, hearth.PublicURL)
	if err != nil {
		return err
	}
	return RespondList(c, images)
}

func (s *Server) handleReorderImages(c echo.Context) (err error) {
	defer s.observe("reorder", time.Now(), &err)

	ctx, cancel := withTimeout(c)
	defer cancel()

	owner, err := requireOwner(c)
	if err != nil {
		return err
	}

	var req validation.ReorderRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := s.requireOwned(ctx, owner, req.Keys); err != nil {
		return err
	}

	if err := s.pipeline.Reorder(ctx, owner, req.Keys); err != nil {
		return err
	}
	return RespondNoContent(c)
}

func (s *Server) handleDeleteImages(c echo.Context) (err error) {
	defer s.observe("delete", time.Now(), &err)

	ctx, cancel := withTimeout(c)
	defer cancel()

	owner, err := requireOwner(c)
	if err != nil {
		return err
	}

	var req validation.DeleteImagesRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	// Records go first so a failed object delete leaves orphaned objects,
	// never records pointing at nothing.
	removed, err := s.assetService.DeleteAssets(ctx, owner, req.Keys)
	if err != nil {
		return err
	}
	if err := s.pipeline.Delete(ctx, owner.Kind, removed); err != nil {
		s.log(c).Error("failed to delete image objects",
			slog.String("owner", owner.String()),
			slog.Any("keys", removed),
			slog.String("error", err.Error()))
		return err
	}

	return RespondOK(c, map[string]any{"deleted": removed})
}

func (s *Server) handleSweepImages(c echo.Context) (err error) {
	defer s.observe("sweep", time.Now(), &err)

	ctx, cancel := withUploadTimeout(c)
	defer cancel()

	owner, err := requireOwner(c)
	if err != nil {
		return err
	}

	var repair bool
	if err := echo.QueryParamsBinder(c).Bool("repair", &repair).BindError(); err != nil {
		return hearth.Invalid("repair must be a boolean")
	}

	report, err := s.pipeline.Sweep(ctx, owner.Kind, media.OwnerPrefix(owner), repair)
	if err != nil {
		return err
	}
	return RespondOK(c, report)
}

// readUploads reads the files of the images field into memory. Each file is
// read up to one byte past the cap, so oversized files are rejected by
// validation without being buffered whole.
func (s *Server) readUploads(c echo.Context) ([]hearth.Upload, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, hearth.Invalid("Request must be a multipart form with %q files", imagesField)
	}
	files := form.File[imagesField]
	if len(files) == 0 {
		files = form.File[imagesField+"[]"]
	}

	uploads := make([]hearth.Upload, 0, len(files))
	for _, fh := range files {
		data, err := readFile(fh, s.MaxUploadBytes+1)
		if err != nil {
			return nil, hearth.Internal("Failed to read uploaded file", err)
		}
		uploads = append(uploads, hearth.Upload{
			Filename: fh.Filename,
			Data:     data,
			Size:     fh.Size,
		})
	}
	return uploads, nil
}

func readFile(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, limit))
}

// storeUploads runs the upload batch and records every committed original.
// If the records cannot be written the stored objects are removed again.
func (s *Server) storeUploads(ctx context.Context, owner hearth.Owner, stage hearth.Stage, uploads []hearth.Upload) ([]*hearth.Asset, error) {
	keys, err := s.pipeline.Upload(ctx, owner, stage, uploads)
	if err != nil {
		return nil, err
	}

	assets := make([]*hearth.Asset, len(keys))
	for i, k := range keys {
		assets[i] = &hearth.Asset{
			OwnerKind: owner.Kind,
			OwnerID:   owner.ID,
			Key:       k,
			Stage:     stage,
		}
	}

	if err := s.assetService.CreateAssets(ctx, assets); err != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultTimeout)
		defer cancel()
		if derr := s.pipeline.Delete(cctx, owner.Kind, keys); derr != nil {
			hearth.LoggerFromContext(ctx, s.logger).Error("failed to remove unrecorded images",
				slog.String("owner", owner.String()),
				slog.Any("keys", keys),
				slog.String("error", derr.Error()))
		}
		return nil, err
	}
	return assets, nil
}

// ownerAssets returns the permanent records of owner.
func (s *Server) ownerAssets(ctx context.Context, owner hearth.Owner) ([]*hearth.Asset, error) {
	permanent := hearth.StagePermanent
	return s.assetService.FindAssets(ctx, hearth.AssetFilter{
		OwnerKind: &owner.Kind,
		OwnerID:   &owner.ID,
		Stage:     &permanent,
	})
}

// requireOwned checks that every key is a recorded original of owner.
func (s *Server) requireOwned(ctx context.Context, owner hearth.Owner, keys []string) error {
	prefix := media.OwnerPrefix(owner)
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			return hearth.Invalid("key %q does not belong to %s", k, owner)
		}
	}

	assets, err := s.ownerAssets(ctx, owner)
	if err != nil {
		return err
	}
	recorded := make(map[string]bool, len(assets))
	for _, a := range assets {
		recorded[a.Key] = true
	}
	for _, k := range keys {
		if !recorded[k] {
			return hearth.NotFound("image %q not found", k)
		}
	}
	return nil
}

// imageResponses resolves the URLs of each asset and its renditions.
func (s *Server) imageResponses(ctx context.Context, kind hearth.OwnerKind, assets []*hearth.Asset, mode hearth.URLMode) ([]ImageResponse, error) {
	policy, err := s.pipeline.Policy(kind)
	if err != nil {
		return nil, err
	}

	images := make([]ImageResponse, 0, len(assets))
	for _, a := range assets {
		url, err := s.resolver.Resolve(ctx, a.Key, mode)
		if err != nil {
			return nil, err
		}
		var renditions map[string]string
		if len(policy.Renditions) > 0 {
			renditions, err = s.resolver.Renditions(ctx, a.Key, policy.Renditions, mode)
			if err != nil {
				return nil, err
			}
		}
		images = append(images, ImageResponse{
			ID:         a.ID,
			Key:        a.Key,
			URL:        url,
			Renditions: renditions,
			CreatedAt:  a.CreatedAt,
		})
	}
	return images, nil
}
