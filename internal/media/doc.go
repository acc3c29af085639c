// Package media provides the oracles behind the derived indexes.
//
//   - MetadataOracle reads image headers with libvips when it is available and
//     falls back to image.DecodeConfig otherwise. Videos get size and mime only.
//   - HueOracle downsamples an image and quantizes its dominant hues into
//     twelve 30 degree buckets.
//   - RemoteClassifier and RemoteEmbedder post file contents to an HTTP model
//     service and decode its JSON answer.
//
// Every oracle works on a database.MediaItem and resolves the item's relative
// path through a Resolver.
package media
