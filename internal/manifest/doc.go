// Package manifest retrieves and parses the patch-server documents:
// the management root descriptor, the three sub-lists, and the byte
// streams for individual entries.
//
// A manifest entry names a file with its expected size and MD5. The
// dataset is the de-duplicated union of up to three sub-lists; the
// reboot list overrides the prologue list, and the launcher list only
// adds entries neither provided. De-duplication keys on the
// suffix-stripped relative path, case-insensitively.
//
// # Usage
//
//	client := manifest.NewClient(httpClient, managementURL, log)
//	root, err := client.FetchRoot(ctx)
//	entries, err := client.FetchManifest(ctx, root, manifest.FullDataset)
//
// Download workers then use client.OpenStream to fetch entry content
// from the base URL selected by the entry's channel.
package manifest
