// Package cli implements the cgeofiles command line.
//
// Usage:
//
//	cgeofiles [global flags] <command> [args]
//
// Commands:
//
//	receive [-name n] [-url u] [-date unix] <uri>   copy a map file into the offline maps folder
//	folders                                       list logical folders and their locations
//	set-folder <ID> <location>                    set a user-defined location (path or s3://bucket/prefix)
//	reset-folder <ID>                             drop the user-defined location
//	maps                                          list indexed offline maps
//	rescan                                        re-index the offline maps folder
//	images [-max px] <uri>...                     import images, scaled into IMAGES when -max > 0
//	serve                                         run the HTTP control surface and the inbox watcher
//	version                                       print build information
//
// Global flags are described in package config.
package cli
