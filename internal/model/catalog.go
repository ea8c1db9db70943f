package model

// Entity kinds stored in the catalogue.
const (
	KindAuthor    = "author"
	KindBook      = "book"
	KindPublisher = "publisher"
)

// Document fields.
const (
	FieldName            = "name"
	FieldBio             = "bio"
	FieldDateOfBirth     = "dateOfBirth"
	FieldBooks           = "books"
	FieldTitle           = "title"
	FieldPublicationDate = "publicationDate"
	FieldGenre           = "genre"
	FieldAuthorID        = "authorId"
	FieldPublisherID     = "publisherId"
	FieldEstablishedYear = "establishedYear"
	FieldLocation        = "location"

	// FieldNumOfBooks is computed on read, never stored.
	FieldNumOfBooks = "numOfBooks"
)

// Genres lists the accepted book genres.
var Genres = []string{
	"FICTION",
	"NON_FICTION",
	"MYSTERY",
	"FANTASY",
	"ROMANCE",
	"SCIENCE_FICTION",
	"HORROR",
	"BIOGRAPHY",
}

// IsGenre reports whether g is one of Genres.
func IsGenre(g string) bool {
	for _, genre := range Genres {
		if genre == g {
			return true
		}
	}
	return false
}

// Collection returns the plural collection name of a kind ("author" -> "authors").
func Collection(kind string) string {
	return kind + "s"
}
