package provision

import mathrand "math/rand"

var firstNames = []string{
	"Marco", "Luka", "Diego", "Karim", "Jan", "Pedro", "Emre", "Sergio",
	"Thiago", "Andre", "Nikolai", "Yaya", "Kofi", "Mateo", "Ivan", "Pablo",
	"Henrik", "Dragan", "Samuel", "Tomas", "Rafael", "Adama", "Jonas", "Felix",
	"Oscar", "Bruno", "Leon", "Milan", "Ruben", "Stefan", "Dario", "Enzo",
}

var lastNames = []string{
	"Silva", "Kovac", "Fernandez", "Moreau", "Jansen", "Costa", "Yilmaz",
	"Ramos", "Alves", "Petrov", "Toure", "Vidal", "Mensah", "Rossi", "Horvat",
	"Garcia", "Larsson", "Novak", "Osei", "Dvorak", "Santos", "Traore",
	"Berg", "Wagner", "Leme", "Sousa", "Keller", "Jovic", "Pereira", "Ilic",
	"Bianchi", "Marchetti",
}

func randomPlayerName(r *mathrand.Rand) string {
	return firstNames[r.Intn(len(firstNames))] + " " + lastNames[r.Intn(len(lastNames))]
}
