// Skyquery - ask questions about your AWS inventory.
// Collect. Route. Answer.
package main

func main() {
	Execute()
}
