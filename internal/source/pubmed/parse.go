package pubmed

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/hherb/bmlib/internal/publication"
)

const (
	pmcBaseURL = "https://www.ncbi.nlm.nih.gov/pmc/articles/"
	doiBaseURL = "https://doi.org/"
)

var monthNumbers = map[string]string{
	"jan": "01", "feb": "02", "mar": "03", "apr": "04",
	"may": "05", "jun": "06", "jul": "07", "aug": "08",
	"sep": "09", "oct": "10", "nov": "11", "dec": "12",
}

type eSearchResult struct {
	Count    int    `xml:"Count"`
	QueryKey string `xml:"QueryKey"`
	WebEnv   string `xml:"WebEnv"`
	Error    string `xml:"ERROR"`
}

type articleSet struct {
	Articles []article `xml:"PubmedArticle"`
}

type article struct {
	Citation medlineCitation `xml:"MedlineCitation"`
	Data     pubmedData      `xml:"PubmedData"`
}

type medlineCitation struct {
	PMID         string        `xml:"PMID"`
	Article      articleBody   `xml:"Article"`
	MeshHeadings []meshHeading `xml:"MeshHeadingList>MeshHeading"`
}

type meshHeading struct {
	Descriptor string `xml:"DescriptorName"`
}

type articleBody struct {
	Journal          journal        `xml:"Journal"`
	Title            mixedText      `xml:"ArticleTitle"`
	Abstract         []abstractText `xml:"Abstract>AbstractText"`
	Authors          []author       `xml:"AuthorList>Author"`
	PublicationTypes []string       `xml:"PublicationTypeList>PublicationType"`
}

type journal struct {
	Title   string  `xml:"Title"`
	PubDate pubDate `xml:"JournalIssue>PubDate"`
}

type pubDate struct {
	Year        string `xml:"Year"`
	Month       string `xml:"Month"`
	Day         string `xml:"Day"`
	MedlineDate string `xml:"MedlineDate"`
}

type author struct {
	LastName       string `xml:"LastName"`
	ForeName       string `xml:"ForeName"`
	CollectiveName string `xml:"CollectiveName"`
}

type abstractText struct {
	Label string `xml:"Label,attr"`
	mixedText
}

// mixedText captures an element whose text may contain inline markup
// such as <i> or <sup>.
type mixedText struct {
	Inner string `xml:",innerxml"`
}

// String returns the element's character data with inline tags removed.
func (m mixedText) String() string {
	if !strings.Contains(m.Inner, "<") && !strings.Contains(m.Inner, "&") {
		return strings.TrimSpace(m.Inner)
	}

	dec := xml.NewDecoder(strings.NewReader("<x>" + m.Inner + "</x>"))
	dec.Strict = false
	dec.Entity = xml.HTMLEntity

	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		if cd, ok := tok.(xml.CharData); ok {
			sb.Write(cd)
		}
	}
	return strings.TrimSpace(sb.String())
}

type pubmedData struct {
	ArticleIDs []articleID `xml:"ArticleIdList>ArticleId"`
}

type articleID struct {
	IDType string `xml:"IdType,attr"`
	Value  string `xml:",chardata"`
}

func parseESearch(body []byte) (eSearchResult, error) {
	var res eSearchResult
	if err := xml.Unmarshal(body, &res); err != nil {
		return res, fmt.Errorf("parsing esearch response: %w", err)
	}
	if res.Error != "" {
		return res, fmt.Errorf("esearch: %s", res.Error)
	}
	return res, nil
}

func parseArticleSet(body []byte) ([]article, error) {
	var set articleSet
	dec := xml.NewDecoder(bytes.NewReader(body))
	// EFetch responses declare a DOCTYPE with HTML entities.
	dec.Strict = false
	dec.Entity = xml.HTMLEntity
	if err := dec.Decode(&set); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parsing efetch response: %w", err)
	}
	return set.Articles, nil
}

// parsePubDate renders a PubDate as YYYY, YYYY-MM or YYYY-MM-DD.
func parsePubDate(d pubDate) *string {
	year := strings.TrimSpace(d.Year)
	if year == "" {
		// MedlineDate looks like "2024 Jan-Feb"; keep the year.
		if md := strings.TrimSpace(d.MedlineDate); len(md) >= 4 {
			return publication.Str(md[:4])
		}
		return nil
	}

	month := strings.TrimSpace(d.Month)
	if month == "" {
		return &year
	}
	key := strings.ToLower(month)
	if len(key) > 3 {
		key = key[:3]
	}
	if n, ok := monthNumbers[key]; ok {
		month = n
	} else {
		month = zeroPad(month)
	}

	day := strings.TrimSpace(d.Day)
	if day == "" {
		return publication.Str(year + "-" + month)
	}
	return publication.Str(year + "-" + month + "-" + zeroPad(day))
}

func zeroPad(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// toRecord converts a PubmedArticle into a normalized-shape record.
func (a article) toRecord() publication.Record {
	body := a.Citation.Article

	rec := publication.Record{
		Source:           Name,
		Title:            body.Title.String(),
		PMID:             publication.Str(strings.TrimSpace(a.Citation.PMID)),
		Journal:          publication.Str(strings.TrimSpace(body.Journal.Title)),
		PublicationDate:  parsePubDate(body.Journal.PubDate),
		PublicationTypes: body.PublicationTypes,
		Authors:          []string{},
		Keywords:         []string{},
	}

	var parts []string
	for _, at := range body.Abstract {
		text := at.String()
		if text == "" {
			continue
		}
		if at.Label != "" {
			text = at.Label + ": " + text
		}
		parts = append(parts, text)
	}
	rec.Abstract = publication.Str(strings.Join(parts, "\n"))

	for _, au := range body.Authors {
		switch {
		case au.LastName != "" && au.ForeName != "":
			rec.Authors = append(rec.Authors, au.LastName+", "+au.ForeName)
		case au.LastName != "":
			rec.Authors = append(rec.Authors, au.LastName)
		case au.CollectiveName != "":
			rec.Authors = append(rec.Authors, au.CollectiveName)
		}
	}

	for _, mh := range a.Citation.MeshHeadings {
		if mh.Descriptor != "" {
			rec.Keywords = append(rec.Keywords, mh.Descriptor)
		}
	}

	var pmcID string
	for _, id := range a.Data.ArticleIDs {
		switch id.IDType {
		case "doi":
			rec.DOI = publication.Str(strings.TrimSpace(id.Value))
		case "pmc":
			pmcID = strings.TrimSpace(id.Value)
		}
	}

	if pmcID != "" {
		rec.PMCID = &pmcID
		rec.FulltextSources = append(rec.FulltextSources, publication.FulltextRef{
			Source: "pmc", URL: pmcBaseURL + pmcID + "/", Format: "html",
		})
	}
	if rec.DOI != nil {
		rec.FulltextSources = append(rec.FulltextSources, publication.FulltextRef{
			Source: "publisher", URL: doiBaseURL + *rec.DOI, Format: "html",
		})
	}
	return rec
}
