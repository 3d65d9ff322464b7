package hook

// Well-known event names raised by the host application. Plugs may
// also define their own names; these constants only cover the events
// the runtime and its callers emit themselves.
const (
	// Page lifecycle.
	EventPageSaved     = "page:saved"
	EventPageDeleted   = "page:deleted"
	EventPageIndex     = "page:index"
	EventPageIndexText = "page:index_text"

	// Completion and UI.
	EventPageComplete = "page:complete"
	EventPageClick    = "page:click"

	// Query family. Subscribers answer data queries; these are
	// typically single-answer events.
	EventQueryPage       = "query:page"
	EventQueryLink       = "query:link"
	EventQueryTag        = "query:tag"
	EventQueryItem       = "query:item"
	EventQueryFullText   = "query:full-text"
	EventQueryLinkUnfurl = "query:link-unfurl"

	// Runtime lifecycle.
	EventPlugsLoaded = "plugs:loaded"
	EventEditorInit  = "editor:init"
)
