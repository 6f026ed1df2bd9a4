package classifier

// Vocabulary is the frozen, ordered label set the model was trained on.
// Index i of a model output vector corresponds to Vocabulary[i]; the order
// must never change without retraining the model.
var Vocabulary = []string{
	"Largemouth Bass",
	"Smallmouth Bass",
	"Brook Trout",
	"Rainbow Trout",
	"Striped Bass",
	"Brown Trout",
	"Northern Pike",
	"Pickerel",
	"Croppie",
	"Sunfish",
	"Bluegill",
	"Lake Trout",
	"Sturgeon",
	"Muskie",
}
