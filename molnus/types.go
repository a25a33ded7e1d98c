package molnus

import (
	"bytes"
	"encoding/json"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// FlexString decodes a JSON string, number or boolean into a string.
// Molnus is not consistent about ids. Other JSON values decode to "".
type FlexString string

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexString) UnmarshalJSON(data []byte) error {
	*f = FlexString(scalarText(data, true))
	return nil
}

// scalarText returns the text of a JSON string. With numeric set, numbers
// and booleans are returned literally. Anything else gives "".
func scalarText(data []byte, numeric bool) string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ""
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return ""
		}
		return s
	case 't', 'f':
		if numeric && (bytes.Equal(data, []byte("true")) || bytes.Equal(data, []byte("false"))) {
			return string(data)
		}
		return ""
	case '{', '[', 'n':
		return ""
	}
	if !numeric {
		return ""
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return ""
	}
	return n.String()
}

// String returns the plain string value
func (f FlexString) String() string {
	return string(f)
}

// Prediction is a species guess attached to an image
type Prediction struct {
	Label    string  `json:"label"`
	Accuracy float64 `json:"accuracy"`
}

// UnmarshalJSON implements json.Unmarshaler. A label or accuracy of the
// wrong type is left at its zero value instead of failing the record.
// Accuracy sent as a numeric string is parsed.
func (p *Prediction) UnmarshalJSON(data []byte) error {
	*p = Prediction{}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	p.Label = scalarText(fields["label"], false)
	if v, err := strconv.ParseFloat(scalarText(fields["accuracy"], true), 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
		p.Accuracy = v
	}
	return nil
}

// Image represents a single uploaded image record.
//
// Records are opaque: decoding never fails because of one field. A field
// of an unexpected type decodes to its zero value, so a bad timestamp only
// makes that image sort last. Raw keeps every field as sent.
type Image struct {
	ID             FlexString   `json:"id,omitempty"`
	CaptureDate    string       `json:"captureDate,omitempty"`
	CreatedAt      string       `json:"createdAt,omitempty"`
	URL            string       `json:"url,omitempty"`
	ThumbnailURL   string       `json:"thumbnailUrl,omitempty"`
	DeviceFilename string       `json:"deviceFilename,omitempty"`
	CameraID       FlexString   `json:"CameraId,omitempty"`
	Predictions    []Prediction `json:"ImagePredictions,omitempty"`

	Raw map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON implements json.Unmarshaler. A record that is not a JSON
// object decodes to the empty image.
func (i *Image) UnmarshalJSON(data []byte) error {
	*i = Image{}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil
	}

	i.Raw = fields
	i.ID = FlexString(scalarText(fields["id"], true))
	i.CaptureDate = scalarText(fields["captureDate"], false)
	i.CreatedAt = scalarText(fields["createdAt"], false)
	i.URL = scalarText(fields["url"], false)
	i.ThumbnailURL = scalarText(fields["thumbnailUrl"], false)
	i.DeviceFilename = scalarText(fields["deviceFilename"], false)
	i.CameraID = FlexString(scalarText(fields["CameraId"], true))

	var predictions []json.RawMessage
	if raw, ok := fields["ImagePredictions"]; ok && json.Unmarshal(raw, &predictions) == nil {
		for _, item := range predictions {
			var p Prediction
			_ = json.Unmarshal(item, &p)
			if p.Label != "" || p.Accuracy != 0 {
				i.Predictions = append(i.Predictions, p)
			}
		}
	}
	return nil
}

// Field returns a raw field of the record as sent by Molnus
func (i Image) Field(name string) (json.RawMessage, bool) {
	raw, ok := i.Raw[name]
	return raw, ok
}

// IsZero reports whether the record is the empty image
func (i Image) IsZero() bool {
	return i.ID == "" && i.URL == "" && i.CaptureDate == "" && i.CreatedAt == "" &&
		i.ThumbnailURL == "" && i.DeviceFilename == "" && i.CameraID == "" && len(i.Predictions) == 0
}

// Timestamp returns the raw capture timestamp, falling back to createdAt
func (i Image) Timestamp() string {
	if i.CaptureDate != "" {
		return i.CaptureDate
	}
	return i.CreatedAt
}

// CapturedAt parses Timestamp. Missing or unparsable values give the zero
// time, which sorts before every real timestamp.
func (i Image) CapturedAt() time.Time {
	return ParseTimestamp(i.Timestamp())
}

// BestPrediction returns the prediction with the highest accuracy
func (i Image) BestPrediction() (Prediction, bool) {
	if len(i.Predictions) == 0 {
		return Prediction{}, false
	}
	best := i.Predictions[0]
	for _, p := range i.Predictions[1:] {
		if p.Accuracy > best.Accuracy {
			best = p
		}
	}
	return best, true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses an ISO 8601 timestamp as sent by Molnus (usually
// ending in Z). Values without an offset are taken as UTC. Empty or
// unparsable input returns the zero time.
func ParseTimestamp(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ImageQuery holds the parameters of an images/get request
type ImageQuery struct {
	CameraID         string
	Offset           int
	Limit            int
	WildlifeRequired bool
}

// Values encodes the query the way images/get expects it
func (q ImageQuery) Values() url.Values {
	params := url.Values{}
	params.Set("CameraId", q.CameraID)
	params.Set("offset", strconv.Itoa(q.Offset))
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("wildlifeRequired", strconv.FormatBool(q.WildlifeRequired))
	return params
}

// TokenSet is the credential pair returned by a login.
// It is replaced wholesale and never modified after creation.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ObtainedAt   time.Time
}

// Age returns how long ago the token was obtained
func (t *TokenSet) Age(now time.Time) time.Duration {
	return now.Sub(t.ObtainedAt)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token *struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	} `json:"token"`
}
