// Command bootalloc inspects and exercises the early-boot region allocators.
package main

func main() {
	execute()
}
