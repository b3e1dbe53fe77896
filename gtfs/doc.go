// Package gtfs handles the static side of the transit data: downloading and
// versioning feed bundles, parsing the CSV tables out of the zip, and
// building the in-memory schedule index that board evaluation reads from.
package gtfs
