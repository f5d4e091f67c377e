// Command llmstreambench is the terminal client of the benchmark server: it
// starts runs and shows them live, and manages models and history.
package main

func main() {
	Execute()
}
