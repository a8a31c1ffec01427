package html

// html is responsible for turning HTML message bodies into the plain text
// we send alongside them for mail clients that can't (or won't) render
// HTML. It's not concerned with MIME encoding, only with what a reader of
// the text/plain part should see.
//
// Bodies in other markup-ish formats, like markdown, go through StripTags
// instead, which leaves their line structure alone.
