package fingerprint

// vocabulary maps stemmed domain terms to a service category. Terms sharing a
// category are treated as the same concept by the fuzzy tier.
var vocabulary = map[string]string{
	// outpatient care
	"consulta":     "consulta",
	"cita":         "consulta",
	"valoracion":   "consulta",
	"control":      "consulta",
	"especialista": "consulta",
	"medicina":     "consulta",

	// procedures
	"cirugia":       "cirugia",
	"quirurgico":    "cirugia",
	"procedimiento": "cirugia",
	"intervencion":  "cirugia",
	"anestesia":     "cirugia",

	// laboratory
	"laboratorio": "laboratorio",
	"examen":      "laboratorio",
	"hemograma":   "laboratorio",
	"prueba":      "laboratorio",
	"patologia":   "laboratorio",

	// imaging
	"imagen":       "imagenologia",
	"imagenologia": "imagenologia",
	"radiologia":   "imagenologia",
	"ecografia":    "imagenologia",
	"tomografia":   "imagenologia",
	"resonancia":   "imagenologia",
	"radiografia":  "imagenologia",
	"mamografia":   "imagenologia",

	// inpatient
	"hospitalizacion": "hospitalizacion",
	"estancia":        "hospitalizacion",
	"habitacion":      "hospitalizacion",
	"uci":             "hospitalizacion",

	// emergency
	"urgencia":   "urgencias",
	"emergencia": "urgencias",
	"ambulancia": "urgencias",
	"traslado":   "urgencias",

	// therapy
	"terapia":        "terapia",
	"fisioterapia":   "terapia",
	"rehabilitacion": "terapia",
	"psicologia":     "terapia",
	"fonoaudiologia": "terapia",

	// pharmacy and supplies
	"medicamento": "medicamentos",
	"farmacia":    "medicamentos",
	"insumo":      "medicamentos",
	"dispositivo": "medicamentos",

	// professional fees
	"honorario": "honorarios",
	"asesoria":  "honorarios",
	"auditoria": "honorarios",

	// facilities
	"arrendamiento": "arrendamiento",
	"arriendo":      "arrendamiento",
	"alquiler":      "arrendamiento",
	"canon":         "arrendamiento",
	"mantenimiento": "mantenimiento",
	"reparacion":    "mantenimiento",
	"aseo":          "aseo",
	"limpieza":      "aseo",
	"vigilancia":    "vigilancia",
	"seguridad":     "vigilancia",

	// utilities
	"energia":   "servicios_publicos",
	"acueducto": "servicios_publicos",
	"agua":      "servicios_publicos",
	"gas":       "servicios_publicos",
	"telefonia": "servicios_publicos",
	"internet":  "servicios_publicos",
}

var stopWords = map[string]bool{
	"de": true, "del": true, "la": true, "el": true, "los": true, "las": true,
	"y": true, "e": true, "o": true, "en": true, "por": true, "para": true,
	"con": true, "sin": true, "a": true, "al": true, "un": true, "una": true,
	"se": true, "su": true, "sus": true, "que": true, "segun": true,
	"the": true, "of": true, "and": true, "for": true, "to": true, "in": true,
	"factura": true, "cobro": true, "servicio": true, "servicios": true,
	"periodo": true, "mes": true, "mensual": true, "correspondiente": true,
}

// periodWords name a billing period; they change every month and would
// otherwise break month-over-month matching.
var periodWords = map[string]bool{
	"enero": true, "febrero": true, "marzo": true, "abril": true, "mayo": true, "junio": true,
	"julio": true, "agosto": true, "septiembre": true, "setiembre": true, "octubre": true,
	"noviembre": true, "diciembre": true,
	"ene": true, "feb": true, "mar": true, "abr": true, "jun": true, "jul": true,
	"ago": true, "sep": true, "sept": true, "oct": true, "nov": true, "dic": true,
	"january": true, "february": true, "march": true, "april": true, "may": true, "june": true,
	"july": true, "august": true, "september": true, "october": true, "november": true, "december": true,
}
