// Package patch parses and applies context-anchored patch documents.
//
// A patch names whole-file operations and, for updates, hunks of context,
// removed and added lines:
//
//	*** Begin Patch
//	*** Add File: docs/hello.txt
//	+hello
//	*** Delete File: old/unused.go
//	*** Update File: cmd/main.go
//	@@ func main() {
//	 	cfg := load()
//	-	run(cfg)
//	+	if err := run(cfg); err != nil {
//	+		log.Fatal(err)
//	+	}
//	*** End Patch
//
// Parse is purely syntactic. Apply is a pure function from an operation and
// the current file content to the staged new content; it runs Locate for
// every hunk against a running line buffer so later hunks see the effect of
// earlier ones. Committing staged changes to disk is the job of the
// transaction package.
package patch
