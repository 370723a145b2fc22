package names

// Identifier components - adjective + noun combinations.
var documentAdjectives = []string{
	"amber", "brisk", "calm", "clever", "crisp",
	"eager", "fabled", "gentle", "golden", "hidden",
	"ivory", "jade", "keen", "lively", "mellow",
	"noble", "opal", "quiet", "rapid", "silver",
	"subtle", "tidy", "vivid", "wandering",
}

var documentNouns = []string{
	"anchor", "beacon", "canyon", "cedar", "comet",
	"delta", "ember", "fjord", "glacier", "harbor",
	"island", "lagoon", "meadow", "orchard", "prairie",
	"quarry", "ridge", "summit", "thicket", "tundra",
	"valley", "willow", "zenith", "grove",
}
