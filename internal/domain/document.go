package domain

import (
	"strings"
	"time"
)

const (
	markupSuffix = ".mmd"
	pdfSuffix    = ".pdf"

	maxLegacyCandidates = 2
)

// StoredArtifact is converted markup as written to remote storage.
type StoredArtifact struct {
	OwnerID   string
	FileName  string
	Markup    string
	CreatedAt time.Time
}

// DocumentRecord is the resolved, user-facing form of a StoredArtifact.
type DocumentRecord struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ArtifactName is the stored name for markup converted from fileName.
func ArtifactName(fileName string) string {
	return fileName + markupSuffix
}

// DeriveTitle strips every trailing ".mmd". A ".pdf" left behind is part of
// the title, so "calc101.pdf.mmd" becomes "calc101.pdf" and the result is a
// fixed point of DeriveTitle. A bare ".pdf" is deliberately kept as well, so
// "calc.pdf" keeps its extension in the title.
func DeriveTitle(fileName string) string {
	title := fileName
	for strings.HasSuffix(title, markupSuffix) && len(title) > len(markupSuffix) {
		title = strings.TrimSuffix(title, markupSuffix)
	}
	return title
}

// CandidateNames lists the stored names under which fileName's markup may
// live: the name itself first, then at most two legacy spellings built by
// toggling the ".pdf" and ".mmd" suffixes.
func CandidateNames(fileName string) []string {
	stem := strings.TrimSuffix(fileName, markupSuffix)
	stem = strings.TrimSuffix(stem, pdfSuffix)

	candidates := []string{fileName}
	if stem == "" {
		return candidates
	}
	legacy := []string{
		stem + markupSuffix,
		stem + pdfSuffix + markupSuffix,
		stem + pdfSuffix,
	}
	added := 0
	for _, name := range legacy {
		if added == maxLegacyCandidates {
			break
		}
		if containsString(candidates, name) {
			continue
		}
		candidates = append(candidates, name)
		added++
	}
	return candidates
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
