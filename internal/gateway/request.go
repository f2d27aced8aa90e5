package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/onyxcharts/export-service/internal/pipeline"
	"github.com/onyxcharts/export-service/internal/svcerr"
)

// exportRequest mirrors the recognised fields of an export request body:
// infile | options | data (structured config), svg (vector markup), type,
// constr, height, width, scale, callback, customCode, resources,
// globalOptions, themeOptions, b64, noDownload, filename, displayErrors.
type exportRequest struct {
	Infile        map[string]interface{} `json:"infile" validate:"-"`
	Options       map[string]interface{} `json:"options" validate:"-"`
	Data          map[string]interface{} `json:"data" validate:"-"`
	SVG           string                  `json:"svg"`
	Type          string                  `json:"type" validate:"omitempty,oneof=jpeg png pdf svg"`
	Constr        string                  `json:"constr"`
	Height        int                     `json:"height" validate:"omitempty,gt=0"`
	Width         int                     `json:"width" validate:"omitempty,gt=0"`
	Scale         float64                 `json:"scale" validate:"omitempty,gte=0.1,lte=5.0"`
	Callback      string                  `json:"callback"`
	CustomCode    string                  `json:"customCode"`
	Resources     *resourcesPayload       `json:"resources"`
	GlobalOptions map[string]interface{}  `json:"globalOptions"`
	ThemeOptions  map[string]interface{}  `json:"themeOptions"`
	B64           bool                    `json:"b64"`
	NoDownload    bool                    `json:"noDownload"`
	Filename      string                  `json:"filename"`

	// DisplayErrors requests that renderer errors be painted into the
	// container element instead of failing silently. The gateway only
	// honours this when the debugger module is actually installed.
	DisplayErrors bool `json:"displayErrors"`
}

type resourcesPayload struct {
	JS    string   `json:"js"`
	CSS   string   `json:"css"`
	Files []string `json:"files"`
}

// structuredConfig returns whichever of infile/options/data was set, in
// that precedence order, and whether one was found at all.
func (req *exportRequest) structuredConfig() (map[string]interface{}, bool) {
	if req.Infile != nil {
		return req.Infile, true
	}
	if req.Options != nil {
		return req.Options, true
	}
	if req.Data != nil {
		return req.Data, true
	}
	return nil, false
}

// decodeRequest parses the body as JSON, URL-encoded form, or multipart
// form depending on Content-Type, capped at maxBodySize.
func decodeRequest(w http.ResponseWriter, r *http.Request, maxBodySize int64) (*exportRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	contentType := r.Header.Get("Content-Type")
	var req exportRequest

	switch {
	case strings.Contains(contentType, "application/json"):
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, svcerr.NewValidationError("body", "failed to read request body")
		}
		if len(data) == 0 {
			return &req, nil
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, svcerr.NewValidationError("body", "malformed JSON")
		}
		return &req, nil

	case strings.Contains(contentType, "multipart/form-data"):
		if err := r.ParseMultipartForm(maxBodySize); err != nil {
			return nil, svcerr.NewValidationError("body", "malformed multipart form")
		}
		populateFromForm(&req, r.Form)
		return &req, nil

	default:
		if err := r.ParseForm(); err != nil {
			return nil, svcerr.NewValidationError("body", "malformed form body")
		}
		populateFromForm(&req, r.Form)
		return &req, nil
	}
}

func populateFromForm(req *exportRequest, form map[string][]string) {
	get := func(key string) string {
		if v, ok := form[key]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}

	if v := get("infile"); v != "" {
		req.Infile = parseJSONObject(v)
	}
	if v := get("options"); v != "" {
		req.Options = parseJSONObject(v)
	}
	if v := get("data"); v != "" {
		req.Data = parseJSONObject(v)
	}
	req.SVG = get("svg")
	req.Type = get("type")
	req.Constr = get("constr")
	req.Callback = get("callback")
	req.CustomCode = get("customCode")
	req.Filename = get("filename")

	if v := get("height"); v != "" {
		req.Height, _ = strconv.Atoi(v)
	}
	if v := get("width"); v != "" {
		req.Width, _ = strconv.Atoi(v)
	}
	if v := get("scale"); v != "" {
		req.Scale, _ = strconv.ParseFloat(v, 64)
	}
	if v := get("b64"); v != "" {
		req.B64 = v == "true" || v == "1"
	}
	if v := get("noDownload"); v != "" {
		req.NoDownload = v == "true" || v == "1"
	}
	if v := get("displayErrors"); v != "" {
		req.DisplayErrors = v == "true" || v == "1"
	}
}

func parseJSONObject(raw string) map[string]interface{} {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

// toJob resolves req against cfg defaults into a pipeline.Job. Returns a
// ValidationError if neither a structured config nor vector markup was
// supplied.
func (req *exportRequest) toJob(defaults struct {
	Height, Width int
	Scale         float64
	Type          string
	AllowFileRes  bool
}) (*pipeline.Job, error) {
	structured, hasStructured := req.structuredConfig()
	hasVector := strings.TrimSpace(req.SVG) != ""

	if !hasStructured && !hasVector {
		return nil, svcerr.NewValidationError("infile", "missing chart data: provide infile/options/data or svg")
	}

	outType := req.Type
	if outType == "" {
		outType = defaults.Type
	}
	if !pipeline.ValidOutputType(outType) {
		return nil, svcerr.NewValidationError("type", fmt.Sprintf("unrecognised output type %q", outType))
	}

	height := req.Height
	if height == 0 {
		height = defaults.Height
	}
	width := req.Width
	if width == 0 {
		width = defaults.Width
	}
	scale := req.Scale
	if scale == 0 {
		scale = defaults.Scale
	}
	if scale < 0.1 || scale > 5.0 {
		return nil, svcerr.NewValidationError("scale", "scale must be within [0.1, 5.0]")
	}

	job := &pipeline.Job{
		Output: pipeline.OutputType(outType),
		Height: height,
		Width:  width,
		Scale:  scale,
		AllowFileRes: defaults.AllowFileRes,
	}

	if hasVector {
		job.Input.VectorMarkup = req.SVG
	} else {
		job.Input.StructuredConfig = structured
	}

	if req.Resources != nil {
		job.Resources = pipeline.Resources{JS: req.Resources.JS, CSS: req.Resources.CSS, Files: req.Resources.Files}
	}

	return job, nil
}
