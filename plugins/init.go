// Package plugins registers all built-in plugins.
package plugins

import (
	"firestige.xyz/ibdissect/pkg/plugin"
	"firestige.xyz/ibdissect/plugins/heuristic/eoib"
	"firestige.xyz/ibdissect/plugins/heuristic/ipoib"
	"firestige.xyz/ibdissect/plugins/reporter/console"
	"firestige.xyz/ibdissect/plugins/reporter/kafka"
)

func init() {
	// Register heuristic payload decoders; registration order is try order
	plugin.RegisterHeuristic("ipoib", ipoib.New)
	plugin.RegisterHeuristic("eoib", eoib.New)

	// Register reporter plugins
	plugin.RegisterReporter("console", console.NewConsoleReporter)
	plugin.RegisterReporter("kafka", kafka.NewKafkaReporter)
}
