package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jmylchreest/carwatch/internal/model"
)

// ParseMakes reads the make options of the search form.
func ParseMakes(html string) ([]model.Make, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var makes []model.Make
	doc.Find(selMakeOptions).Each(func(_ int, s *goquery.Selection) {
		id := strings.TrimSpace(s.AttrOr("value", ""))
		name := cleanText(s.Text())
		if id == "" || name == "" || seen[id] {
			return
		}
		seen[id] = true
		makes = append(makes, model.Make{ID: id, Name: name})
	})
	return makes, nil
}

// ParseModels reads the model options of the search form. Each option
// carries its make id in the class attribute. An empty makeID returns all
// models.
func ParseModels(html, makeID string) ([]model.ModelOption, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var models []model.ModelOption
	doc.Find(selModelOptions).Each(func(_ int, s *goquery.Selection) {
		id := strings.TrimSpace(s.AttrOr("value", ""))
		owner := strings.TrimSpace(s.AttrOr("class", ""))
		name := cleanText(s.Text())
		if id == "" || name == "" || owner == "" || seen[id] {
			return
		}
		if makeID != "" && owner != makeID {
			return
		}
		seen[id] = true
		models = append(models, model.ModelOption{ID: id, MakeID: owner, Name: name})
	})
	return models, nil
}
