// Package mediatypes maps file extensions to the media kinds and MIME types
// mirrored by the gallery. Only images and videos become media items; every
// other file in the library is ignored by the source walker.
package mediatypes
