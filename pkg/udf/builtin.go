package udf

// Function types every registry starts with. They can not be undefined or
// redefined.
var builtins = []string{
	"Constant(a) = a",
	"Linear(a0, a1) = a0 + a1*x",
	"Quadratic(a0, a1, a2) = a0 + a1*x + a2*x^2",
	"Cubic(a0, a1, a2, a3) = a0 + a1*x + a2*x^2 + a3*x^3",
	"Polynomial4(a0, a1, a2, a3, a4) = a0 + a1*x + a2*x^2 + a3*x^3 + a4*x^4",

	"Gaussian(height, center, hwhm) = height*exp(-ln(2)*((x-center)/hwhm)^2)",
	"Lorentzian(height, center, hwhm) = height/(1+((x-center)/hwhm)^2)",
	"Pearson7(height, center, hwhm, shape=2) = " +
		"height/(1+((x-center)/hwhm)^2*(2^(1/shape)-1))^shape",
	"PseudoVoigt(height, center, hwhm, shape=0.5) = " +
		"height*((1-shape)*exp(-ln(2)*((x-center)/hwhm)^2) + shape/(1+((x-center)/hwhm)^2))",
	"ExpDecay(a=0, t=1) = a*exp(-x/t)",
	"Sigmoid(lower, upper, xmid, wsig) = lower + (upper-lower)/(1+exp((xmid-x)/wsig))",
	"LogNormal(height, center, width=1, asym=0.1) = " +
		"height*exp(-ln(2)*(ln(2*asym*(x-center)/width+1)/asym)^2)",

	"GaussianA(area, center, hwhm) = Gaussian(area/hwhm/sqrt(pi/ln(2)), center, hwhm)",
	"LorentzianA(area, center, hwhm) = Lorentzian(area/hwhm/pi, center, hwhm)",

	"SplitGaussian(height, center, hwhm1=1, hwhm2=1) = " +
		"x < center ? Gaussian(height, center, hwhm1) : Gaussian(height, center, hwhm2)",
	"SplitLorentzian(height, center, hwhm1=1, hwhm2=1) = " +
		"x < center ? Lorentzian(height, center, hwhm1) : Lorentzian(height, center, hwhm2)",
}
