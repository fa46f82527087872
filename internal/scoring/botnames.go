package scoring

import "github.com/cespare/xxhash/v2"

// nameSet is a hashed membership set for curated bot names, keyed by
// xxhash of the exact reported name.
type nameSet map[uint64]struct{}

func newNameSet(names ...string) nameSet {
	s := make(nameSet, len(names))
	for _, n := range names {
		s[xxhash.Sum64String(n)] = struct{}{}
	}
	return s
}

func (s nameSet) contains(name string) bool {
	_, ok := s[xxhash.Sum64String(name)]
	return ok
}

func (s nameSet) union(other nameSet) nameSet {
	merged := make(nameSet, len(s)+len(other))
	for h := range s {
		merged[h] = struct{}{}
	}
	for h := range other {
		merged[h] = struct{}{}
	}
	return merged
}

// wwBots are the Winter War mod bot names.
var wwBots = newNameSet(
	"Perttu", "Antti", "Mikko", "Tuukka", "Joni", "Matti", "Luukas",
	"Valtteri", "Miika", "Seppo", "Kyllian", "Ismo", "Manolis", "Juuso",
	"Veeti", "Pessi", "Joel", "Leevi", "Nalle", "Aapo", "Mirko", "Eemeli",
	"Kristian", "Hemmu", "Pasi", "Oskari", "Petri", "Tuomo", "Mauri",
	"Topi", "Juhani", "Perkele", "Anton", "Vladimir", "Pavel", "Yuri",
	"Grigoriy", "Vasili", "Aleksei", "Georgiy", "Karpov", "Anatoli",
	"Il'ya", "Sergey", "Nikolai", "Konstantin", "Artyom", "Aleksandr",
	"Petr", "Gennadiy", "Viktor", "Evgeny", "Valentin", "Iosif", "Boris",
	"Andrei", "Ivan", "Matvei", "Yakov", "Ilich", "Stepan", "Fedor",
	"Mikhail", "Dimitri",
)

// rs2Bots are the stock RS2 bot names used by the GOM3 mutator.
var rs2Bots = newNameSet(
	"Trang", "Giang", "Vuong", "Huu", "Hien", "Duc", "Trong", "Tuan",
	"Phong", "Hai", "Thao", "Cuong", "Binh", "Phuoc", "Anh", "Danh",
	"Hung", "Nhat", "Quan", "Vien", "Chinh", "Lanh", "Bao", "Ngai",
	"Sang", "Thanh", "Sinh", "Xuan", "Dien", "Chien", "Huynh", "Minh",
	"John", "Adam", "Bill", "Stuart", "Jack", "Simon", "David", "Richard",
	"Alan", "Floyd", "Rob", "Ross", "George", "Ben", "Javier", "Dan",
	"Thomas", "Keith", "Sam", "Joe", "Don", "Toby", "James", "Justyn",
	"Lewis", "Nathan", "Pedro", "Alex", "Mike", "Ken", "Leo",
)

// gom4Bots extends the GOM3 set with the Korean, Lao and Hawaiian names
// introduced by the GOM4 mutator.
var gom4Bots = rs2Bots.union(newNameSet(
	"Young-Su", "Seong-ho", "Hong-Hyeon", "Jung-Woo", "Yeong-Gil",
	"Man-Won", "Yong-Sik", "Jin-Tae", "Tae-Su", "Jung-Geun", "Cheol-su",
	"Chang-Rok", "Tae-In", "Won-Gyun", "Jae-Young", "Gyu-Tae", "Mun-Seop",
	"Jae-Pil", "Byeong-Hoon", "Woo-Il", "Myeong-Hwan", "Hwa-Jong",
	"Woo-Sik", "In-Heon", "Ju-Ryong", "Gyu-Hak", "Young-Il", "Ho-Seong",
	"Sang-Su", "Jin-Seok", "Moo-Gyeong", "Hee-Gyun", "Khamtai", "Kaysone",
	"Phoumi", "Deuane", "Kanoa", "Satasin", "Kale", "Nugoon", "Pekelo",
	"Paxathipatai", "Keanu", "Makani", "Xaisomboun", "Kahoku", "Kye",
	"Bane", "Sengprachanh", "Fa Ngum", "Thongsavanh", "Akamu", "Kapono",
	"Siphandon", "Kelii", "Phonesavanh", "Mao", "Loe", "Kawaii", "Kaipo",
	"Koa", "Malo", "Ikaika",
))
