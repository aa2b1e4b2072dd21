package decoder

// FactoryABI is the subset of the launch factory ABI the indexer relies on.
const FactoryABI = `[
	{"anonymous":false,"type":"event","name":"LaunchCreated","inputs":[
		{"indexed":true,"name":"launch","type":"address"},
		{"indexed":true,"name":"creator","type":"address"},
		{"indexed":true,"name":"token","type":"address"},
		{"indexed":false,"name":"name","type":"string"},
		{"indexed":false,"name":"symbol","type":"string"},
		{"indexed":false,"name":"imageURI","type":"string"}]},
	{"type":"function","name":"isFinalized","stateMutability":"view",
		"inputs":[{"name":"launch","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
]`

// LaunchABI covers the per-launch state getters read during enrichment.
const LaunchABI = `[
	{"type":"function","name":"tokensSold","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"saleSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"price","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"remainingForSale","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"pool","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"feeSplitter","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"stakingVault","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"finalized","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]}
]`

// LaunchCreatedEvent is the factory event emitted once per launch.
const LaunchCreatedEvent = "LaunchCreated"
