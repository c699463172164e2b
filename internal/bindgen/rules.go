package bindgen

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/goplus/skiabind/internal/feature"
)

// RuleKind selects what a Rule matches.
type RuleKind int

const (
	// FunctionAllow emits wrappers for matching functions.
	FunctionAllow RuleKind = iota
	// TypeAllow emits matching types even when no function references them.
	TypeAllow
	// VariableAllow emits matching variables and macros as constants.
	VariableAllow
	// EnumMapping emits matching enums as distinct Go types with a String
	// method instead of plain integer aliases.
	EnumMapping
)

var ruleKindNames = [...]string{
	FunctionAllow: "function",
	TypeAllow:     "type",
	VariableAllow: "var",
	EnumMapping:   "enum",
}

func (k RuleKind) String() string {
	if int(k) < len(ruleKindNames) {
		return ruleKindNames[k]
	}
	return fmt.Sprintf("RuleKind(%d)", int(k))
}

// ParseRuleKind parses the name of a rule kind as written in configuration.
func ParseRuleKind(s string) (RuleKind, error) {
	for k, name := range ruleKindNames {
		if strings.EqualFold(s, name) {
			return RuleKind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown rule kind %q", s)
}

// Rule is one allowlist entry. Pattern is a regular expression matched
// against the whole declaration name.
type Rule struct {
	Kind    RuleKind
	Pattern string
}

func (r Rule) String() string {
	return r.Kind.String() + ":" + r.Pattern
}

func AllowFunction(pattern string) Rule { return Rule{FunctionAllow, pattern} }
func AllowType(pattern string) Rule     { return Rule{TypeAllow, pattern} }
func AllowVar(pattern string) Rule      { return Rule{VariableAllow, pattern} }
func MapEnum(pattern string) Rule       { return Rule{EnumMapping, pattern} }

// RuleSet is the compiled form of a rule list. It is never modified after
// NewRuleSet returns.
type RuleSet struct {
	rules   []Rule
	matches [len(ruleKindNames)][]*regexp.Regexp
}

// NewRuleSet compiles rules.
func NewRuleSet(rules ...Rule) (*RuleSet, error) {
	rs := &RuleSet{rules: append([]Rule(nil), rules...)}
	for _, r := range rules {
		if int(r.Kind) >= len(ruleKindNames) || r.Kind < 0 {
			return nil, fmt.Errorf("rule %q: invalid kind", r.Pattern)
		}
		if r.Pattern == "" {
			return nil, fmt.Errorf("%s rule: empty pattern", r.Kind)
		}
		re, err := regexp.Compile("^(?:" + r.Pattern + ")$")
		if err != nil {
			return nil, fmt.Errorf("%s rule %q: %w", r.Kind, r.Pattern, err)
		}
		rs.matches[r.Kind] = append(rs.matches[r.Kind], re)
	}
	return rs, nil
}

// Rules returns a copy of the rules rs was built from.
func (rs *RuleSet) Rules() []Rule {
	return append([]Rule(nil), rs.rules...)
}

// Match reports whether name matches a rule of kind k.
func (rs *RuleSet) Match(k RuleKind, name string) bool {
	if int(k) >= len(rs.matches) || k < 0 {
		return false
	}
	for _, re := range rs.matches[k] {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// DefaultRules returns the Skia allowlist for the enabled features. Every
// call builds a fresh slice.
func DefaultRules(fs feature.Set) []Rule {
	rules := []Rule{
		AllowFunction("C_.*"),
		AllowFunction("SkColorTypeBytesPerPixel"),
		AllowFunction("SkColorTypeIsAlwaysOpaque"),
		AllowFunction("SkColorTypeValidateAlphaType"),

		AllowType("SkColorSpacePrimaries"),
		AllowType("SkVector4"),

		AllowVar("SK_Color.*"),
	}
	for _, name := range []string{
		"GrMipMapped",
		"GrSurfaceOrigin",
		"SkPaint_Style",
		"SkPaint_Cap",
		"SkPaint_Join",
		"SkGammaNamed",
		"SkColorSpace_RenderTargetGamma",
		"SkColorSpace_Gamut",
		"SkMatrix44_TypeMask",
		"SkMatrix_TypeMask",
		"SkMatrix_ScaleToFit",
		"SkAlphaType",
		"SkColorType",
		"SkYUVColorSpace",
		"SkPixelGeometry",
		"SkSurfaceProps_Flags",
		"SkBitmap_AllocFlags",
		"SkImage_BitDepth",
		"SkImage_CachingHint",
		"SkColorChannel",
		"SkYUVAIndex_Index",
		"SkEncodedImageFormat",
		"SkRRect_Type",
		"SkRRect_Corner",
		"SkRegion_Op",
		"SkFont_Edging",
		"SkFontMetrics_FontMetricsFlags",
		"SkTypeface_SerializeBehavior",
		"SkTypeface_Encoding",
		"SkFontStyle_Weight",
		"SkFontStyle_Width",
		"SkFontStyle_Slant",
	} {
		rules = append(rules, MapEnum(name))
	}
	return append(rules, FeatureRules(fs)...)
}

// FeatureRules returns the rules the enabled features add on top of any
// rule table.
func FeatureRules(fs feature.Set) []Rule {
	if !fs.Has(feature.Vulkan) {
		return nil
	}
	return []Rule{
		MapEnum("VkImageTiling"),
		MapEnum("VkImageLayout"),
		MapEnum("VkFormat"),
	}
}
