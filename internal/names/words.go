package names

var adjectives = []string{
	"amber", "brave", "calm", "dapper", "eager", "fuzzy", "gentle", "hasty", "jolly", "keen",
	"lively", "mellow", "nimble", "plucky", "quiet", "rosy", "sunny", "tidy", "witty", "zesty",
}

var creatures = []string{
	"otter", "panda", "koala", "heron", "lynx", "marten", "newt", "owl", "puffin", "quokka",
	"raven", "seal", "tapir", "vole", "walrus", "yak", "badger", "crane", "dingo", "egret",
}
