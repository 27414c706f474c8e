package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/hearth"
	"github.com/dukerupert/hearth/internal/validation"
	"github.com/labstack/echo/v4"
)

// PromotionItem is the outcome of promoting one staged image.
type PromotionItem struct {
	StagingKey   string `json:"stagingKey"`
	PermanentKey string `json:"permanentKey,omitempty"`
	Error        string `json:"error,omitempty"`
	Message      string `json:"message,omitempty"`
	Retryable    bool   `json:"retryable,omitempty"`
}

// PromoteResponse reports a promotion item by item. Failed items stay
// staged and can be promoted again.
type PromoteResponse struct {
	Owner    hearth.Owner    `json:"owner"`
	Promoted int             `json:"promoted"`
	Failed   int             `json:"failed"`
	Results  []PromotionItem `json:"results"`
}

// handleUploadStagingImages stores images for a registration that has no
// persisted owner yet. The kind query parameter selects the policy of the
// owner the images will be promoted to.
func (s *Server) handleUploadStagingImages(c echo.Context) (err error) {
	defer s.observe("stage", time.Now(), &err)

	token, err := requireID(c, "token")
	if err != nil {
		return err
	}
	kind, err := hearth.ParseOwnerKind(c.QueryParam("kind"))
	if err != nil {
		return err
	}
	uploads, err := s.readUploads(c)
	if err != nil {
		return err
	}

	ctx, cancel := withUploadTimeout(c)
	defer cancel()

	owner := hearth.Owner{Kind: kind, ID: token}
	assets, err := s.storeUploads(ctx, owner, hearth.StageStaging, uploads)
	if err != nil {
		return err
	}

	images, err := s.imageResponses(ctx, kind, assets, hearth.SignedURL(s.SignedURLMinutes))
	if err != nil {
		return err
	}

	s.log(c).Info("staging images uploaded",
		slog.String("token", token),
		slog.String("kind", string(kind)),
		slog.Int("count", len(images)))

	return RespondCreated(c, ListResponse[ImageResponse]{Data: images, Total: len(images)})
}

// handlePromoteRegistration moves every staged image of a registration to
// its approved owner.
func (s *Server) handlePromoteRegistration(c echo.Context) (err error) {
	defer s.observe("promote", time.Now(), &err)

	token, err := requireID(c, "token")
	if err != nil {
		return err
	}

	var req validation.PromoteRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	kind, err := hearth.ParseOwnerKind(req.OwnerKind)
	if err != nil {
		return err
	}
	if !idPattern.MatchString(req.OwnerID) {
		return hearth.Invalid("ownerId must be 1-100 letters, digits, '-' or '_'")
	}
	owner := hearth.Owner{Kind: kind, ID: req.OwnerID}

	ctx, cancel := withUploadTimeout(c)
	defer cancel()

	staging := hearth.StageStaging
	staged, err := s.assetService.FindAssets(ctx, hearth.AssetFilter{
		OwnerKind: &kind,
		OwnerID:   &token,
		Stage:     &staging,
	})
	if err != nil {
		return err
	}
	if len(staged) == 0 {
		return hearth.NotFound("No staged %s images for registration %s", kind, token)
	}

	keys := make([]string, len(staged))
	for i, a := range staged {
		keys[i] = a.Key
	}

	results, err := s.pipeline.Promote(ctx, keys, owner)
	if err != nil {
		return err
	}

	resp := PromoteResponse{Owner: owner, Results: make([]PromotionItem, len(results))}
	for i, r := range results {
		item := PromotionItem{StagingKey: r.StagingKey, PermanentKey: r.PermanentKey}
		if r.OK() {
			// The objects have moved; a record that fails to follow is
			// logged with both keys so it can be reconciled.
			if _, perr := s.assetService.PromoteAsset(ctx, r.StagingKey, owner, r.PermanentKey); perr != nil {
				s.log(c).Error("failed to promote asset record",
					slog.String("staging_key", r.StagingKey),
					slog.String("permanent_key", r.PermanentKey),
					slog.String("error", perr.Error()))
				r.Err = perr
			}
		}
		if r.Err != nil {
			item.Error = hearth.ErrorCode(r.Err)
			item.Message = hearth.ErrorMessage(r.Err)
			item.Retryable = hearth.IsTransient(r.Err)
			resp.Failed++
		} else {
			resp.Promoted++
		}
		resp.Results[i] = item
	}

	s.log(c).Info("registration promoted",
		slog.String("token", token),
		slog.String("owner", owner.String()),
		slog.Int("promoted", resp.Promoted),
		slog.Int("failed", resp.Failed))

	status := http.StatusOK
	if resp.Failed > 0 {
		status = http.StatusMultiStatus
	}
	return Respond(c, status, resp)
}

// SignedURLResponse is a time-limited URL for one key.
type SignedURLResponse struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleSignedURL(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()

	var req validation.SignedURLRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	minutes := req.Minutes
	if minutes == 0 {
		minutes = s.SignedURLMinutes
	}

	mode := hearth.SignedURL(minutes)
	url, err := s.resolver.Resolve(ctx, req.Key, mode)
	if err != nil {
		return err
	}
	return RespondOK(c, SignedURLResponse{
		Key:       req.Key,
		URL:       url,
		ExpiresAt: time.Now().Add(mode.Expiry).UTC(),
	})
}
