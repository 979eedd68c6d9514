// Command agentap runs the agent-bridge daemon and its supporting CLI
// subcommands (start, stop, status, link, config).
package main

func main() {
	Execute()
}
