package dccon

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gurumnyang/dccon-exporter/internal/domain"
	"github.com/gurumnyang/dccon-exporter/internal/imaging"
	"github.com/gurumnyang/dccon-exporter/internal/infra"
	"github.com/gurumnyang/dccon-exporter/pkg/zip"
)

// Stage names emitted by the fetch pipeline, in execution order. The queue
// copies stage, progress and message verbatim onto the job record, so these
// values are part of the polling API.
const (
	StageSession  = "session"
	StageDetail   = "detail"
	StageImage    = "image"
	StageArchive  = "archive"
	StageComplete = "complete"
)

const (
	progressSession = 0.05
	progressDetail  = 0.15
	progressArchive = 0.95

	// Image downloads interpolate between the detail and archive marks.
	progressImageSpan = 0.75

	previewCount = 4
)

// ProgressFunc receives pipeline progress updates. Implementations must be
// cheap; the pipeline calls it inline between network operations.
type ProgressFunc func(stage string, progress float64, message string)

// Result is everything a successful package fetch produces.
type Result struct {
	Info     *domain.PackageInfo
	Title    string
	Items    []domain.Item
	Previews []string
	Zip      *domain.ZipArchive
}

// Fetcher runs the download pipeline for one package: handshake, detail
// fetch, per-image download with optional resize, archive build. Items are
// processed strictly in order with no internal concurrency, which bounds
// memory to one package at a time and keeps the origin from seeing bursts.
type Fetcher struct {
	client *Client
	logger *infra.Logger
}

// NewFetcher wires a fetcher around an origin client.
func NewFetcher(client *Client, logger *infra.Logger) *Fetcher {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Fetcher{client: client, logger: logger}
}

var resizableExts = map[string]bool{
	"png":  true,
	"jpeg": true,
	"jpg":  true,
	"webp": true,
}

var resizableMIMEs = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

// Fetch downloads a full emoticon package. resize <= 0 keeps images at their
// source dimensions. report may be nil.
func (f *Fetcher) Fetch(ctx context.Context, packageID string, resize int, report ProgressFunc) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if report == nil {
		report = func(string, float64, string) {}
	}

	report(StageSession, progressSession, "Preparing session")
	sess, err := f.client.handshake(ctx)
	if err != nil {
		return nil, err
	}

	detail, err := f.client.packageDetail(ctx, sess, packageID)
	if err != nil {
		return nil, err
	}
	total := len(detail.Detail)
	report(StageDetail, progressDetail, fmt.Sprintf("Found %d images", total))

	title := strings.TrimSpace(detail.Info.Title.String())
	items := make([]domain.Item, 0, total)
	for i, entry := range detail.Detail {
		item, err := f.fetchItem(ctx, sess, packageID, entry, i, resize)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		count := i + 1
		progress := progressDetail + progressImageSpan*float64(count)/float64(total)
		report(StageImage, progress, fmt.Sprintf("Downloaded image %d of %d", count, total))
	}

	report(StageArchive, progressArchive, "Building archive")
	assets := make([]zip.Asset, 0, len(items))
	for _, it := range items {
		assets = append(assets, zip.Asset{
			Filename: zip.EntryName(it.Sort, it.Title, it.Ext),
			MIME:     it.MIME,
			Data:     it.Data,
		})
	}
	blob, err := zip.Archive(assets)
	if err != nil {
		return nil, phaseErrorf(PhaseArchive, "build archive: %w", err)
	}

	previews := make([]string, 0, previewCount)
	for _, it := range items {
		if len(previews) == previewCount {
			break
		}
		if len(it.Data) == 0 || it.MIME == "" {
			continue
		}
		previews = append(previews, domain.DataURI(it.MIME, it.Data))
	}

	f.logger.Debug().
		Str("package_id", packageID).
		Int("items", len(items)).
		Int("zip_bytes", len(blob)).
		Msg("dccon: package fetch complete")

	report(StageComplete, 1, "Done")

	return &Result{
		Info:     packageInfoFromWire(detail.Info, packageID),
		Title:    title,
		Items:    items,
		Previews: previews,
		Zip: &domain.ZipArchive{
			Data:     blob,
			Filename: zip.ArchiveFilename(title, packageID),
			Size:     len(blob),
		},
	}, nil
}

// fetchItem downloads one entry and applies the optional resize. A failed
// resize keeps the original bytes; only the download itself can fail the item.
func (f *Fetcher) fetchItem(ctx context.Context, sess *session, packageID string, entry detailItemWire, index, resize int) (domain.Item, error) {
	data, mime, err := f.client.fetchImage(ctx, sess, entry.Path.String())
	if err != nil {
		return domain.Item{}, err
	}

	ext := normalizeExt(entry.Ext.String())
	if ext == "" {
		ext = extForMIME(mime)
	}
	if ext == "" {
		ext = "png"
	}
	if mime == "" {
		mime = mimeForExt(ext)
	}

	item := domain.Item{
		Data:  data,
		Ext:   ext,
		MIME:  mime,
		Size:  len(data),
		Title: entry.Title.String(),
		Sort:  sortIndex(entry.Sort.String(), index),
	}

	if resize > 0 && (resizableExts[ext] || resizableMIMEs[mime]) {
		resized, outExt, rerr := imaging.Resize(data, resize)
		if rerr != nil {
			f.logger.Warn().
				Err(rerr).
				Str("package_id", packageID).
				Str("item", item.Title).
				Msg("dccon: resize failed; keeping original image")
		} else {
			item.Data = resized
			item.Ext = outExt
			item.MIME = mimeForExt(outExt)
			item.Size = len(resized)
			item.Resized = true
		}
	}
	return item, nil
}

func packageInfoFromWire(info packageInfoWire, packageID string) *domain.PackageInfo {
	idx := info.PackageIdx.String()
	if idx == "" {
		idx = packageID
	}
	return &domain.PackageInfo{
		PackageIdx:  idx,
		Title:       strings.TrimSpace(info.Title.String()),
		Description: strings.TrimSpace(info.Description.String()),
		Category:    info.Category.String(),
		MainImage:   info.MainImgPath.String(),
	}
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	return strings.TrimPrefix(ext, ".")
}

// sortIndex parses the origin's sort field, which arrives as a string; the
// positional fallback keeps entry names unique when it is absent.
func sortIndex(raw string, index int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n >= 0 {
		return n
	}
	return index + 1
}

func mimeForExt(ext string) string {
	switch ext {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return ""
	}
}

func extForMIME(mime string) string {
	switch mime {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	default:
		return ""
	}
}
