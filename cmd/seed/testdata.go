package main

type demoMarker struct {
	geometry string
	label    string
	iconType string
}

type demoRoute struct {
	title       string
	description string
	geometry    string
	isPublic    bool
	shareToken  *string
	markers     []demoMarker
}

var demoShareToken = "demo-share-token-lima-coastline"

var demoRoutes = []demoRoute{
	{
		title:       "Costa Verde Coastline",
		description: "Flat ride along the Miraflores and Barranco boardwalk.",
		geometry:    `{"type":"LineString","coordinates":[[-77.0365,-12.1203],[-77.0302,-12.1316],[-77.0251,-12.1405],[-77.0218,-12.1488]]}`,
		isPublic:    true,
		shareToken:  &demoShareToken,
		markers: []demoMarker{
			{geometry: `{"type":"Point","coordinates":[-77.0365,-12.1203]}`, label: "Start: Parque del Amor", iconType: "start"},
			{geometry: `{"type":"Point","coordinates":[-77.0251,-12.1405]}`, label: "Water fountain", iconType: "water"},
			{geometry: `{"type":"Point","coordinates":[-77.0218,-12.1488]}`, label: "Finish: Barranco bridge", iconType: "finish"},
		},
	},
	{
		title:       "Morning hill repeats",
		description: "Short private loop with one steep climb.",
		geometry:    `{"type":"LineString","coordinates":[[-77.0512,-12.0931],[-77.0489,-12.0874],[-77.0443,-12.0856],[-77.0512,-12.0931]]}`,
		isPublic:    false,
		markers: []demoMarker{
			{geometry: `{"type":"Point","coordinates":[-77.0489,-12.0874]}`, label: "Climb start", iconType: "default"},
		},
	},
}
