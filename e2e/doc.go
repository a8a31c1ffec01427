package e2e

// e2e contains integration tests and utility code required to set up
// dependencies. Note that some e2e test dependencies are also used by unit
// tests--these dependencies are not included here. (These were intended to be
// end-to-end tests but became integration tests instead, hence the name.)
