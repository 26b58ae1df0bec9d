// Command scraper collects product prices from a Kabum listing page,
// validates them as one batch and appends them to a sink.
//
// Usage:
//
//	scraper run [--category C | --url U] [--session browser|static] [--html FILE]
//	scraper serve
//	scraper validate FILE.json
package main

func main() {
	Execute()
}
