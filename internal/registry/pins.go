package registry

// analogOnlySensors are the sensor types read through the ADC. The
// supported boards expose a single analog input, so whatever pin the user
// picked in the UI, these sensors physically sit on A0.
var analogOnlySensors = map[string]bool{
	"light": true,
	"sound": true,
	"gas":   true,
}

// analogPin is the fixed ADC pin on the supported platform.
const analogPin = "A0"

// NormalizePin returns the pin a sensor of the given type actually uses.
// Analog-only sensor types are forced onto the platform's single analog
// pin; digital sensors keep their assignment.
func NormalizePin(sensorType, pin string) string {
	if analogOnlySensors[sensorType] {
		return analogPin
	}
	return pin
}
