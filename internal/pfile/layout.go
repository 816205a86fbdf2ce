package pfile

// layout maps the named header fields of one on-disk revision to absolute
// byte offsets. The rec section sits at the start of the file and kept the
// same offsets across the supported revisions; the exam, series and image
// sections moved between revision 12 and the 2x family, and shifted by a
// few bytes again within the 2x family.
type layout struct {
	rec    recLayout
	exam   examLayout
	series seriesLayout
	image  imageLayout
}

// recLayout covers the acquisition-control section. userOff is the offset
// of user CV 0; CV n lives at userOff + 4n.
type recLayout struct {
	runInt    int64 // int32
	scanDate  int64 // 10 bytes
	scanTime  int64 // 8 bytes
	npasses   int64 // int16
	nslices   int64 // int16
	nechoes   int64 // int16
	nframes   int64 // int16
	hnover    int64 // int16
	frameSize int64 // uint16
	pointSize int64 // int16
	dabStart  int64 // int16
	dabStop   int64 // int16
	scanType  int64 // uint16
	dacqCtrl  int64 // uint16
	numDifDirs int64 // int16
	rcXRes    int64 // int16
	rcYRes    int64 // int16
	imSize    int64 // int16
	bandwidth int64 // float32
	userOff   int64 // float32 array base
	roiLenX   int64 // float32, then y, z contiguous
	roiLocX   int64 // float32, then y, z contiguous
	ileaves   int64 // int16
	offData   int64 // int32
}

type examLayout struct {
	examNo      int64 // uint16
	patSex      int64 // int16
	hospName    int64 // 33 bytes
	sysID       int64 // 9 bytes
	operator    int64 // 65 bytes
	dateOfBirth int64 // 9 bytes
	studyUID    int64 // 32 bytes, packed
	patientID   int64 // 65 bytes
	patientName int64 // 65 bytes
}

type seriesLayout struct {
	seriesNo  int64 // int16
	sortOrder int64 // int16
	startRAS  int64 // 1 byte
	endRAS    int64 // 1 byte
	startLoc  int64 // float32
	endLoc    int64 // float32
	protocol  int64 // 25 bytes
	desc      int64 // 65 bytes
	seriesUID int64 // 32 bytes, packed
}

type imageLayout struct {
	imDatetime  int64 // int32, unix seconds
	tr          int64 // int32, microseconds
	ti          int64 // int32, microseconds
	te          int64 // int32, microseconds
	flip        int64 // int16
	freqDir     int64 // int16
	slQuant     int64 // int16
	averages    int64 // int16
	offsetFreq  int64 // int32
	effEchoSpace int64 // int32, microseconds
	dimX        int64 // float32
	dimY        int64 // float32
	dfov        int64 // float32
	dfovRect    int64 // float32
	slThick     int64 // float32
	scanSpacing int64 // float32
	tlhc        int64 // 3 x float32 (R, A, S)
	trhc        int64 // 3 x float32
	brhc        int64 // 3 x float32
	norm        int64 // 3 x float32
	coilName    int64 // 17 bytes
	scanActNo   int64 // int16
	psdName     int64 // 33 bytes
}

// recCommon is shared by every supported revision.
var recCommon = recLayout{
	runInt:     8,
	scanDate:   16,
	scanTime:   26,
	npasses:    64,
	nslices:    68,
	nechoes:    70,
	nframes:    74,
	hnover:     76,
	frameSize:  80,
	pointSize:  82,
	scanType:   92,
	dacqCtrl:   94,
	numDifDirs: 98,
	rcXRes:     100,
	rcYRes:     102,
	imSize:     106,
	bandwidth:  110,
	dabStart:   200,
	dabStop:    202,
	userOff:    216,
	roiLenX:    380,
	roiLocX:    392,
	ileaves:    914,
	offData:    1468,
}

// layout2x builds an exam/series/image layout for the revision-2x family,
// whose sections share internal structure but start at slightly different
// offsets between revisions (the exam-section shift moves studyUID and the
// patient fields by 8 bytes in revision 22).
func layout2x(studyUID, patientID int64) layout {
	return layout{
		rec: recCommon,
		exam: examLayout{
			examNo:      143516,
			patSex:      143520,
			hospName:    143524,
			sysID:       143560,
			operator:    143600,
			dateOfBirth: 143700,
			studyUID:    studyUID,
			patientID:   patientID,
			patientName: patientID + 91,
		},
		series: seriesLayout{
			seriesNo:  145622,
			sortOrder: 145624,
			startRAS:  145630,
			endRAS:    145631,
			startLoc:  145636,
			endLoc:    145640,
			protocol:  145700,
			desc:      145762,
			seriesUID: 145875,
		},
		image: imageLayout{
			imDatetime:   148388,
			tr:           148396,
			ti:           148400,
			te:           148404,
			flip:         148412,
			freqDir:      148414,
			slQuant:      148416,
			averages:     148418,
			offsetFreq:   148420,
			effEchoSpace: 148424,
			dimX:         148440,
			dimY:         148444,
			dfov:         148448,
			dfovRect:     148452,
			slThick:      148456,
			scanSpacing:  148460,
			tlhc:         148464,
			trhc:         148476,
			brhc:         148488,
			norm:         148500,
			coilName:     148520,
			scanActNo:    148834,
			psdName:      148972,
		},
	}
}

var layouts = map[Version]layout{
	V24: layout2x(144248, 144409),
	V23: layout2x(144248, 144409),
	V22: layout2x(144240, 144401),
	V12: {
		rec: recCommon,
		exam: examLayout{
			examNo:      61576,
			patSex:      61580,
			hospName:    61584,
			sysID:       61620,
			operator:    61660,
			dateOfBirth: 61760,
			studyUID:    61966,
			patientID:   62127,
			patientName: 62218,
		},
		series: seriesLayout{
			seriesNo:  62710,
			sortOrder: 62712,
			startRAS:  62718,
			endRAS:    62719,
			startLoc:  62724,
			endLoc:    62728,
			protocol:  62748,
			desc:      62786,
			seriesUID: 62899,
		},
		image: imageLayout{
			imDatetime:   65016,
			tr:           65024,
			ti:           65028,
			te:           65032,
			flip:         65040,
			freqDir:      65042,
			slQuant:      65044,
			averages:     65046,
			offsetFreq:   65048,
			effEchoSpace: 65052,
			dimX:         65068,
			dimY:         65072,
			dfov:         65076,
			dfovRect:     65080,
			slThick:      65084,
			scanSpacing:  65088,
			tlhc:         65092,
			trhc:         65104,
			brhc:         65116,
			norm:         65128,
			coilName:     65148,
			scanActNo:    65328,
			psdName:      65374,
		},
	},
}

// headerSize is the minimum file size that fits every section of the
// largest layout, used to validate inputs before decoding.
func headerSize(v Version) int64 {
	if v == V12 {
		return 66072
	}
	return 149672
}
