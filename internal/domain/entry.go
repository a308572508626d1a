package domain

import (
	"strconv"
	"strings"
	"time"
)

// Entry type discriminator values stored in mod_type
const (
	EntryTypeEdit   = "edit"
	EntryTypeUpload = "upload"
	EntryTypeMove   = "move"
)

// ModEntry represents one queued change awaiting moderator review - maps to mod_entries table
type ModEntry struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Type        string    `gorm:"column:mod_type" json:"type"` // edit, upload, move
	Timestamp   time.Time `gorm:"column:mod_timestamp" json:"timestamp"`
	AuthorID    int64     `gorm:"column:mod_user" json:"author_id"` // 0 for anonymous
	AuthorName  string    `gorm:"column:mod_user_text" json:"author_name"`
	Namespace   int       `gorm:"column:mod_namespace" json:"namespace"`
	Title       string    `gorm:"column:mod_title" json:"title"`
	Namespace2  int       `gorm:"column:mod_page2_namespace" json:"namespace2,omitempty"` // move target
	Title2      string    `gorm:"column:mod_page2_title" json:"title2,omitempty"`
	Comment     string    `gorm:"column:mod_comment" json:"comment"`
	Minor       bool      `gorm:"column:mod_minor" json:"minor"`
	Bot         bool      `gorm:"column:mod_bot" json:"bot"`
	NewPage     bool      `gorm:"column:mod_new" json:"new_page"`
	BaseRevID   int64     `gorm:"column:mod_last_oldid" json:"base_rev_id"` // revision the edit was based on
	OldLen      int       `gorm:"column:mod_old_len" json:"old_len"`
	NewLen      int       `gorm:"column:mod_new_len" json:"new_len"`
	Text        string    `gorm:"column:mod_text" json:"text"`
	StashKey    string    `gorm:"column:mod_stash_key" json:"stash_key,omitempty"` // staged upload payload reference
	IP          string    `gorm:"column:mod_ip" json:"ip"`
	XFF         string    `gorm:"column:mod_header_xff" json:"xff,omitempty"`
	UserAgent   string    `gorm:"column:mod_header_ua" json:"user_agent,omitempty"`
	Tags        string    `gorm:"column:mod_tags" json:"tags,omitempty"` // newline-joined
	PreloadID   string    `gorm:"column:mod_preload_id;index:idx_preload" json:"preload_id"`
	Preloadable bool      `gorm:"column:mod_preloadable;index:idx_preload" json:"preloadable"`
	Conflict    bool      `gorm:"column:mod_conflict" json:"conflict"`
	MergedRevID int64     `gorm:"column:mod_merged_revid" json:"merged_rev_id"` // non-zero once approved

	Rejected      bool   `gorm:"column:mod_rejected" json:"rejected"`
	RejectedByID  int64  `gorm:"column:mod_rejected_by_user" json:"rejected_by_id,omitempty"`
	RejectedBy    string `gorm:"column:mod_rejected_by_user_text" json:"rejected_by,omitempty"`
	RejectedBatch bool   `gorm:"column:mod_rejected_batch" json:"rejected_batch"`
	RejectedAuto  bool   `gorm:"column:mod_rejected_auto" json:"rejected_auto"`
}

// TableName returns the table name
func (ModEntry) TableName() string {
	return "mod_entries"
}

// Status returns the lifecycle status string
func (e *ModEntry) Status() string {
	if e.MergedRevID != 0 {
		return "merged"
	}
	if e.Rejected {
		return "rejected"
	}
	return "pending"
}

// Page returns the affected page reference
func (e *ModEntry) Page() PageRef {
	return PageRef{Namespace: e.Namespace, Title: e.Title}
}

// Page2 returns the move target page reference (moves only)
func (e *ModEntry) Page2() PageRef {
	return PageRef{Namespace: e.Namespace2, Title: e.Title2}
}

// TagList splits the newline-joined tag column into a slice
func (e *ModEntry) TagList() []string {
	if e.Tags == "" {
		return nil
	}
	return strings.Split(e.Tags, "\n")
}

// SetTagList joins tags back into the persisted form, dropping empties
func (e *ModEntry) SetTagList(tags []string) {
	clean := tags[:0]
	for _, t := range tags {
		if t != "" {
			clean = append(clean, t)
		}
	}
	e.Tags = strings.Join(clean, "\n")
}

// MergeTags unions new tags into the stored set, preserving order
func (e *ModEntry) MergeTags(tags []string) {
	have := map[string]bool{}
	merged := e.TagList()
	for _, t := range merged {
		have[t] = true
	}
	for _, t := range tags {
		if t != "" && !have[t] {
			have[t] = true
			merged = append(merged, t)
		}
	}
	e.Tags = strings.Join(merged, "\n")
}

// PageRef identifies a wiki page by namespace + title
type PageRef struct {
	Namespace int    `json:"namespace"`
	Title     string `json:"title"`
}

// Key returns a stable map key for the page
func (p PageRef) Key() string {
	return strconv.Itoa(p.Namespace) + ":" + p.Title
}
