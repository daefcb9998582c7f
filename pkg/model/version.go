package model

// CurrentCacheVersion is the version written to new head markers.
//
// Change log:
//
//	v1: initial layout: records/ tree plus hashes.json, commits.json
//	    and head_commit.json metadata files
const CurrentCacheVersion uint64 = 1
