// Package sections groups a partitioned element stream into named clinical
// sections.
//
// Header detection and section naming are driven by a Layout, a versioned
// table of known headers and aliases. The built-in table covers admission
// notes; other document layouts can be supported by loading a YAML or TOML
// table with LoadLayout:
//
//	version: 2
//	known_headers: ["DISCHARGE MEDICATIONS", "FOLLOW UP"]
//	aliases:
//	  - match: DISCHARGE MEDICATIONS
//	    key: medications
//
// Segmentation is a pure function of the element slice and the layout.
package sections
