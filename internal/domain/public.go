package domain

import (
	"encoding/base64"
	"time"
)

// PublicJob is the transport-facing view of a Job. Raw image and archive
// buffers never appear here: items are inlined as data: URIs and the archive
// is reduced to a summary. The zip bytes themselves leave the service only
// through the download operation.
type PublicJob struct {
	ID           string        `json:"id"`
	URL          string        `json:"url"`
	PackageID    string        `json:"packageId"`
	Options      PublicOptions `json:"options"`
	Status       JobStatus     `json:"status"`
	Progress     float64       `json:"progress"`
	Stage        string        `json:"stage,omitempty"`
	Message      string        `json:"message,omitempty"`
	Error        string        `json:"error,omitempty"`
	PackageTitle string        `json:"packageTitle,omitempty"`
	PackageInfo  *PackageInfo  `json:"packageInfo,omitempty"`
	Previews     []string      `json:"previews,omitempty"`
	Items        []PublicItem  `json:"items,omitempty"`
	ItemCount    int           `json:"itemCount"`
	Zip          *ZipSummary   `json:"zip,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	StartedAt    *time.Time    `json:"startedAt,omitempty"`
	CompletedAt  *time.Time    `json:"completedAt,omitempty"`
}

// PublicOptions echoes the normalized job options. Resize is null when the
// source size is kept.
type PublicOptions struct {
	Resize *int `json:"resize"`
}

// PublicItem describes one archived image. DataURL is null when the buffer or
// MIME type is unavailable, signalling consumers to render a placeholder.
type PublicItem struct {
	Title   string  `json:"title"`
	Ext     string  `json:"ext"`
	MIME    string  `json:"mime"`
	Size    int     `json:"size"`
	Resized bool    `json:"resized"`
	Sort    int     `json:"sort"`
	DataURL *string `json:"dataUrl"`
}

// ZipSummary describes the archive without carrying its bytes.
type ZipSummary struct {
	Filename  string `json:"filename"`
	Size      int    `json:"size"`
	SizeHuman string `json:"sizeHuman"`
}

// Public projects the job into its externally visible shape.
func (j *Job) Public() PublicJob {
	out := PublicJob{
		ID:           j.ID,
		URL:          j.URL,
		PackageID:    j.PackageID,
		Status:       j.Status,
		Progress:     j.Progress,
		Stage:        j.Stage,
		Message:      j.Message,
		Error:        j.Error,
		PackageTitle: j.PackageTitle,
		PackageInfo:  j.PackageInfo,
		ItemCount:    len(j.Items),
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
	}
	if j.Resize > 0 {
		size := j.Resize
		out.Options.Resize = &size
	}
	if len(j.Previews) > 0 {
		out.Previews = append([]string(nil), j.Previews...)
	}
	if len(j.Items) > 0 {
		out.Items = make([]PublicItem, 0, len(j.Items))
		for _, item := range j.Items {
			out.Items = append(out.Items, item.public())
		}
	}
	if j.Zip != nil {
		out.Zip = &ZipSummary{
			Filename:  j.Zip.Filename,
			Size:      j.Zip.Size,
			SizeHuman: FormatBytes(int64(j.Zip.Size)),
		}
	}
	return out
}

func (it Item) public() PublicItem {
	pub := PublicItem{
		Title:   it.Title,
		Ext:     it.Ext,
		MIME:    it.MIME,
		Size:    it.Size,
		Resized: it.Resized,
		Sort:    it.Sort,
	}
	if len(it.Data) > 0 && it.MIME != "" {
		uri := DataURI(it.MIME, it.Data)
		pub.DataURL = &uri
	}
	return pub
}

// DataURI inline-encodes a binary payload for direct embedding.
func DataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
