package texture

import (
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bassista/go_leaf/internal/page"
)

// Properties is the persisted description of a page background. It holds
// enough to rebuild the BackgroundSpec after a restart without going back
// to the original asset.
type Properties struct {
	Kind                page.PatternKind  `json:"kind" yaml:"kind" validate:"required,oneof=none ruled grid image"`
	Params              map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
	Asset               string            `json:"asset,omitempty" yaml:"asset,omitempty"`
	Texture             string            `json:"texture,omitempty" yaml:"texture,omitempty"`
	IdealExportRotation page.Rotation     `json:"idealExportRotation" yaml:"idealExportRotation"`
	Generation          uint64            `json:"generation" yaml:"generation"`
	PageSize            page.Size         `json:"pageSize" yaml:"pageSize"`
	TextureSize         *page.Size        `json:"textureSize,omitempty" yaml:"textureSize,omitempty"`
	UpdatedAt           time.Time         `json:"updatedAt" yaml:"updatedAt"`
}

// NewProperties describes the background of a page record.
func NewProperties(rec page.Record) Properties {
	return Properties{
		Kind:                rec.Background.Kind,
		Params:              maps.Clone(rec.Background.Params),
		Asset:               rec.Background.Asset,
		Texture:             rec.Background.Texture,
		IdealExportRotation: rec.IdealExportRotation,
		Generation:          rec.Generation,
		PageSize:            rec.Size,
	}
}

// Spec rebuilds the background spec these properties were written from.
func (p Properties) Spec() page.BackgroundSpec {
	return page.BackgroundSpec{
		Kind:    p.Kind,
		Params:  maps.Clone(p.Params),
		Asset:   p.Asset,
		Texture: p.Texture,
	}
}

// ToMap flattens the properties into a key/value mapping. Params are
// prefixed with "param.".
func (p Properties) ToMap() map[string]string {
	m := map[string]string{
		"kind":       string(p.Kind),
		"rotation":   p.IdealExportRotation.String(),
		"generation": strconv.FormatUint(p.Generation, 10),
		"page_size":  p.PageSize.String(),
	}
	if p.Asset != "" {
		m["asset"] = p.Asset
	}
	if p.Texture != "" {
		m["texture"] = p.Texture
	}
	if p.TextureSize != nil {
		m["texture_size"] = p.TextureSize.String()
	}
	for k, v := range p.Params {
		m["param."+k] = v
	}
	return m
}

// FromMap parses the output of ToMap.
func FromMap(m map[string]string) (Properties, error) {
	p := Properties{
		Kind:    page.PatternKind(m["kind"]),
		Asset:   m["asset"],
		Texture: m["texture"],
	}
	var err error
	if p.IdealExportRotation, err = page.ParseRotation(m["rotation"]); err != nil {
		return Properties{}, err
	}
	if raw := m["generation"]; raw != "" {
		if p.Generation, err = strconv.ParseUint(raw, 10, 64); err != nil {
			return Properties{}, fmt.Errorf("%w: generation %q", page.ErrInvalidSpec, raw)
		}
	}
	if p.PageSize, err = parseSize(m["page_size"]); err != nil {
		return Properties{}, err
	}
	if raw, ok := m["texture_size"]; ok {
		ts, err := parseSize(raw)
		if err != nil {
			return Properties{}, err
		}
		p.TextureSize = &ts
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if name, ok := strings.CutPrefix(k, "param."); ok {
			if p.Params == nil {
				p.Params = map[string]string{}
			}
			p.Params[name] = m[k]
		}
	}
	return p, nil
}

func parseSize(s string) (page.Size, error) {
	var sz page.Size
	if _, err := fmt.Sscanf(s, "%dx%d", &sz.W, &sz.H); err != nil || !sz.Valid() {
		return page.Size{}, fmt.Errorf("%w: size %q", page.ErrInvalidSpec, s)
	}
	return sz, nil
}
