package langs

import (
	"strings"

	"golang.org/x/text/language"
)

// Target is a target language accepted by the translation job service.
type Target struct {
	Code string       `json:"code"`
	Name string       `json:"name"`
	Tag  language.Tag `json:"-"`
}

const DefaultTarget = "CHS"

var targets = []Target{
	{Code: "CHS", Name: "Simplified Chinese", Tag: language.SimplifiedChinese},
	{Code: "CHT", Name: "Traditional Chinese", Tag: language.TraditionalChinese},
	{Code: "CSY", Name: "Czech", Tag: language.Czech},
	{Code: "NLD", Name: "Dutch", Tag: language.Dutch},
	{Code: "ENG", Name: "English", Tag: language.English},
	{Code: "FRA", Name: "French", Tag: language.French},
	{Code: "DEU", Name: "German", Tag: language.German},
	{Code: "HUN", Name: "Hungarian", Tag: language.Hungarian},
	{Code: "ITA", Name: "Italian", Tag: language.Italian},
	{Code: "JPN", Name: "Japanese", Tag: language.Japanese},
	{Code: "KOR", Name: "Korean", Tag: language.Korean},
	{Code: "PLK", Name: "Polish", Tag: language.Polish},
	{Code: "PTB", Name: "Portuguese", Tag: language.BrazilianPortuguese},
	{Code: "ROM", Name: "Romanian", Tag: language.Romanian},
	{Code: "RUS", Name: "Russian", Tag: language.Russian},
	{Code: "ESP", Name: "Spanish", Tag: language.Spanish},
	{Code: "TRK", Name: "Turkish", Tag: language.Turkish},
	{Code: "UKR", Name: "Ukrainian", Tag: language.Ukrainian},
	{Code: "VIN", Name: "Vietnamese", Tag: language.Vietnamese},
	{Code: "CNR", Name: "Montenegrin", Tag: language.MustParse("cnr")},
	{Code: "SRP", Name: "Serbian", Tag: language.Serbian},
	{Code: "HRV", Name: "Croatian", Tag: language.Croatian},
	{Code: "ARA", Name: "Arabic", Tag: language.Arabic},
	{Code: "THA", Name: "Thai", Tag: language.Thai},
	{Code: "IND", Name: "Indonesian", Tag: language.Indonesian},
}

// Targets returns the catalogue in display order.
func Targets() []Target {
	ret := make([]Target, len(targets))
	copy(ret, targets)
	return ret
}

// LookupTarget resolves a job-service code ("ENG") or a BCP 47 tag ("en-US").
func LookupTarget(s string) (Target, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Target{}, false
	}
	upper := strings.ToUpper(s)
	for _, t := range targets {
		if t.Code == upper {
			return t, true
		}
	}

	tag, err := language.Parse(s)
	if err != nil {
		return Target{}, false
	}
	tags := make([]language.Tag, len(targets))
	for i, t := range targets {
		tags[i] = t.Tag
	}
	_, idx, conf := language.NewMatcher(tags).Match(tag)
	if conf < language.High {
		return Target{}, false
	}
	return targets[idx], true
}

var supportedLocales = []language.Tag{language.Chinese, language.English, language.Japanese}

// DetectLocale reduces a UI locale to one of zh, en, ja. Anything else maps to zh.
func DetectLocale(locale string) string {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		return "zh"
	}
	base, _ := tag.Base()
	for _, supported := range supportedLocales {
		sb, _ := supported.Base()
		if sb == base {
			return sb.String()
		}
	}
	return "zh"
}
